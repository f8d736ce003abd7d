package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/makkenzo/license-engine/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeConn struct {
	failures int
	subjects []string
	payloads [][]byte
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("connection lost")
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return nil
}

func TestNATSNotifier_Publishes(t *testing.T) {
	conn := &fakeConn{}
	n := notify.NewNATSNotifier(conn, "", 2, zap.NewNop())

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	err := n.LicenseChanged(context.Background(), notify.Change{LicenseID: "abc", Features: []string{"doc-export@1.0"}, At: at})
	require.NoError(t, err)

	require.Len(t, conn.subjects, 1)
	assert.Equal(t, notify.DefaultSubject, conn.subjects[0])

	var got notify.Change
	require.NoError(t, json.Unmarshal(conn.payloads[0], &got))
	assert.Equal(t, "abc", got.LicenseID)
	assert.Equal(t, []string{"doc-export@1.0"}, got.Features)
	assert.True(t, at.Equal(got.At))
}

func TestNATSNotifier_Retries(t *testing.T) {
	conn := &fakeConn{failures: 2}
	n := notify.NewNATSNotifier(conn, "custom.subject", 2, zap.NewNop())

	require.NoError(t, n.LicenseChanged(context.Background(), notify.Change{LicenseID: "abc"}))
	assert.Equal(t, []string{"custom.subject"}, conn.subjects)
}

func TestNATSNotifier_GivesUp(t *testing.T) {
	conn := &fakeConn{failures: 10}
	n := notify.NewNATSNotifier(conn, "", 1, zap.NewNop())

	err := n.LicenseChanged(context.Background(), notify.Change{LicenseID: "abc"})
	assert.ErrorContains(t, err, "publish failed after 1 retries")
}

func TestConnect_DisabledWithoutURL(t *testing.T) {
	n, closeFn, err := notify.Connect("", "test", "", zap.NewNop())
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, notify.Nop{}, n)
}
