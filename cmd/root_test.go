package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngn-platform/score-integrity/internal/model"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	expected := []string{"serve", "audit", "migrate", "verify", "receipt", "dispute"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "score-integrity", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestAuditCommand_Flags(t *testing.T) {
	require.NotNil(t, auditCmd.Flags().Lookup("dry-run"))
	require.NotNil(t, auditCmd.Flags().Lookup("no-alerts"))
}

func TestReceiptCommand_IssueFlags(t *testing.T) {
	for _, name := range []string{"entity-type", "entity-id", "period", "private"} {
		require.NotNil(t, receiptIssueCmd.Flags().Lookup(name), "receipt issue should have --%s flag", name)
	}
}

func TestDisputeCommand_HasSubcommands(t *testing.T) {
	cmds := disputeCmd.Commands()
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	expected := []string{"list", "show", "review", "resolve", "reject"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestIsQuarterStart(t *testing.T) {
	assert.True(t, isQuarterStart(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, isQuarterStart(time.Date(2026, 7, 1, 3, 0, 0, 0, time.UTC)))
	assert.False(t, isQuarterStart(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, isQuarterStart(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)))
}

func TestFormatDisputeList(t *testing.T) {
	now := time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)
	disputes := []model.Dispute{
		{
			ID:         "abc12345-6789-0000-0000-000000000000",
			EntityType: model.EntityArtist,
			EntityID:   "artist-1",
			Type:       model.DisputeScoreError,
			Status:     model.DisputeOpen,
			CreatedAt:  now,
		},
		{
			ID:         "def12345-6789-0000-0000-000000000000",
			EntityType: model.EntityLabel,
			EntityID:   "label-9",
			Type:       model.DisputeDataTampering,
			Status:     model.DisputeReviewing,
			CreatedAt:  now.Add(-time.Hour),
		},
	}

	var buf bytes.Buffer
	formatDisputeList(&buf, disputes)

	output := buf.String()
	assert.Contains(t, output, "ID")
	assert.Contains(t, output, "ENTITY")
	assert.Contains(t, output, "abc12345")
	assert.Contains(t, output, "artist/artist-1")
	assert.Contains(t, output, "score_error")
	assert.Contains(t, output, "label/label-9")
	assert.Contains(t, output, "reviewing")
	assert.Contains(t, output, "2026-03-15 10:30")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789-0000-0000-000000000000"))
	assert.Equal(t, "short", truncateID("short"))
}
