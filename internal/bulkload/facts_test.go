package bulkload

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/cowrieproc/ingestcore/internal/model"
)

type memSSHKeys struct {
	mu    sync.Mutex
	calls []model.SSHKeyIntelligence
}

func (m *memSSHKeys) Upsert(ctx context.Context, key model.SSHKeyIntelligence, sessionID, sourceIP string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, key)
	return nil
}

type memPasswords struct {
	mu    sync.Mutex
	calls []model.PasswordTracking
}

func (m *memPasswords) Upsert(ctx context.Context, pw model.PasswordTracking, sessionID, username string, policy model.PasswordPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, pw)
	return nil
}
func (m *memPasswords) MarkBreachChecked(ctx context.Context, passwordHash string, breached bool, prevalence int, checkedAt time.Time) error {
	return nil
}

type memFiles struct {
	mu    sync.Mutex
	calls []model.FileArtifact
}

func (m *memFiles) Upsert(ctx context.Context, f model.FileArtifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, f)
	return nil
}
func (m *memFiles) MarkVTFlagged(ctx context.Context, sha256 string, analysis map[string]any, flagged bool) error {
	return nil
}

func TestLoader_RunExtractsFactTables(t *testing.T) {
	dir := t.TempDir()
	lines := `{"eventid":"cowrie.client.public_key","session":"s1","timestamp":"2024-01-01T00:00:00Z","src_ip":"1.2.3.4","key_type":"ssh-rsa","key":"AAAAB3NzaC1yc2E="}
{"eventid":"cowrie.login.failed","session":"s1","timestamp":"2024-01-01T00:00:01Z","username":"root","password":"hunter2"}
{"eventid":"cowrie.session.file_download","session":"s1","timestamp":"2024-01-01T00:00:02Z","url":"http://evil/x","shasum":"deadbeef","size":128}
`
	path := writeTempFile(t, dir, "cowrie.json", lines)

	sshKeys := &memSSHKeys{}
	passwords := &memPasswords{}
	files := &memFiles{}

	loader, err := New(Config{
		IngestID:   "run-1",
		Committer:  newMemCommitter(),
		DeadLetter: &memDeadLetter{},
		SSHKeys:    sshKeys,
		Passwords:  passwords,
		Files:      files,
		Clock:      clockwork.NewFakeClock(),
	})
	require.NoError(t, err)

	_, err = loader.Run(context.Background(), []Source{{Path: path}})
	require.NoError(t, err)

	require.Len(t, sshKeys.calls, 1)
	require.Equal(t, "ssh-rsa", sshKeys.calls[0].KeyType)
	require.NotEmpty(t, sshKeys.calls[0].KeyFingerprint)

	require.Len(t, passwords.calls, 1)
	require.NotNil(t, passwords.calls[0].Cleartext)
	require.Equal(t, "hunter2", *passwords.calls[0].Cleartext)

	require.Len(t, files.calls, 1)
	require.Equal(t, "deadbeef", files.calls[0].SHA256)
	require.Equal(t, []string{"http://evil/x"}, files.calls[0].URLSamples)
	require.EqualValues(t, 128, files.calls[0].Size)
}

func TestLoader_RunSkipsFactExtractionWhenReposNil(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "cowrie.json",
		`{"eventid":"cowrie.login.failed","session":"s1","timestamp":"2024-01-01T00:00:00Z","username":"root","password":"hunter2"}`+"\n")

	loader, err := New(Config{
		IngestID:   "run-1",
		Committer:  newMemCommitter(),
		DeadLetter: &memDeadLetter{},
		Clock:      clockwork.NewFakeClock(),
	})
	require.NoError(t, err)

	_, err = loader.Run(context.Background(), []Source{{Path: path}})
	require.NoError(t, err)
}
