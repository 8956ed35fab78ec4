package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/wfunc/coin-hopper/internal/config"
	"github.com/wfunc/coin-hopper/internal/engine"
	apperrors "github.com/wfunc/coin-hopper/internal/errors"
	"github.com/wfunc/coin-hopper/internal/utils"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestVersionCommand(t *testing.T) {
	out := execute(t, "version")
	assert.Contains(t, out, Version)
}

func TestTokenCommand(t *testing.T) {
	path := writeConfig(t, `
security:
  jwt:
    secret: cli-secret
    issuer: coin-hopper
`)
	out := execute(t, "token", "--config", path, "--subject", "alice", "--ttl", "1h")
	token := strings.TrimSpace(out)

	claims, err := utils.NewJWTManager("cli-secret", "coin-hopper", time.Hour).ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, utils.RoleOperator, claims.Role)
}

func TestNewJWTManager(t *testing.T) {
	m, err := newJWTManager(&config.JWTConfig{})
	require.NoError(t, err)
	assert.Nil(t, m, "empty secret disables auth")

	_, err = newJWTManager(&config.JWTConfig{Secret: "s", ExpireHours: -1})
	assert.Error(t, err)

	m, err = newJWTManager(&config.JWTConfig{Secret: "s", ExpireHours: 2})
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, m.Expiry())
}

func TestLogEventHandlesAllTypes(t *testing.T) {
	ticket := &engine.PayoutTicket{ID: "p1", Amount: 30, Target: 3}
	events := []engine.Event{
		{Type: engine.EventCreditChanged, Balance: 10, Delta: 10, Pulses: 1},
		{Type: engine.EventPayoutStarted, Ticket: ticket},
		{Type: engine.EventPayoutCompleted, Result: &engine.PayoutResult{ID: "p1", Outcome: engine.OutcomeCompleted}},
		{Type: engine.EventPayoutRejected, Reason: engine.ReasonInsufficient},
		{Type: engine.EventPayoutStalled},
	}
	for _, ev := range events {
		assert.NotPanics(t, func() { logEvent(ev) })
	}
}

func TestEventLevel(t *testing.T) {
	stalled := engine.Event{Type: engine.EventPayoutStalled, Err: apperrors.New(apperrors.ErrHopperStalled)}
	motor := engine.Event{Type: engine.EventPayoutRejected, Reason: engine.ReasonMotor, Err: apperrors.New(apperrors.ErrMotorCommand)}
	busy := engine.Event{Type: engine.EventPayoutRejected, Reason: engine.ReasonInProgress, Err: apperrors.New(apperrors.ErrPayoutInProgress)}
	aborted := engine.Event{Type: engine.EventPayoutAborted, Err: apperrors.New(apperrors.ErrCanceled)}

	assert.Equal(t, zapcore.ErrorLevel, eventLevel(stalled))
	assert.Equal(t, zapcore.ErrorLevel, eventLevel(motor))
	assert.Equal(t, zapcore.WarnLevel, eventLevel(busy))
	assert.Equal(t, zapcore.WarnLevel, eventLevel(aborted))
	assert.Equal(t, zapcore.InfoLevel, eventLevel(engine.Event{Type: engine.EventCreditChanged}))
}
