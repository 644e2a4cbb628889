package bulkload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/cowrieproc/ingestcore/internal/model"
)

// extractFacts derives specialized fact-table rows from one event (spec.md
// §3 "specialized fact tables: SSH keys, passwords, files") and upserts them
// through the optional repos in cfg. A nil repo disables its extraction.
// Failures are logged and swallowed: fact-table enrichment is secondary to
// raw-event durability, and must never cause a batch to fail or retry.
func (b *batcher) extractFacts(ctx context.Context, ev model.RawEvent) {
	switch model.EventType(ev.EventType) {
	case model.EventSSHKexAuth:
		b.extractSSHKey(ctx, ev)
	case model.EventLoginSuccess, model.EventLoginFailed:
		b.extractPassword(ctx, ev)
	case model.EventSessionFileDl, model.EventSessionFileUpload:
		b.extractFile(ctx, ev)
	}
}

func (b *batcher) extractSSHKey(ctx context.Context, ev model.RawEvent) {
	if b.cfg.SSHKeys == nil {
		return
	}
	keyData := ev.Payload.String("key")
	if keyData == "" {
		return
	}
	sum := sha256.Sum256([]byte(keyData))
	fingerprint := ev.Payload.String("fingerprint")
	if fingerprint == "" {
		fingerprint = "SHA256:" + hex.EncodeToString(sum[:])
	}

	key := model.SSHKeyIntelligence{
		KeyType:        firstNonEmpty(ev.Payload.String("key_type"), "unknown"),
		KeyData:        keyData,
		KeyFingerprint: fingerprint,
		KeyHash:        hex.EncodeToString(sum[:]),
		KeyComment:     ev.Payload.String("comment"),
		FirstSeen:      ev.EventTimestamp,
		LastSeen:       ev.EventTimestamp,
		KeyBits:        int(ev.Payload.Int64("key_bits")),
	}
	if err := b.cfg.SSHKeys.Upsert(ctx, key, ev.SessionID, ev.Payload.String("src_ip")); err != nil {
		b.cfg.Log.Warn("ssh key fact extraction failed", "source", ev.Source, "offset", ev.SourceOffset, "error", err)
	}
}

func (b *batcher) extractPassword(ctx context.Context, ev model.RawEvent) {
	if b.cfg.Passwords == nil {
		return
	}
	username := ev.Payload.String("username")
	password := ev.Payload.String("password")
	if password == "" {
		return
	}
	sum := sha256.Sum256([]byte(password))
	hash := hex.EncodeToString(sum[:])

	pw := model.PasswordTracking{
		PasswordHash: hash,
		FirstSeen:    ev.EventTimestamp,
		LastSeen:     ev.EventTimestamp,
	}
	if b.cfg.PasswordPolicy.Retain {
		pw.Cleartext = &password
	}
	if err := b.cfg.Passwords.Upsert(ctx, pw, ev.SessionID, username, b.cfg.PasswordPolicy); err != nil {
		b.cfg.Log.Warn("password fact extraction failed", "source", ev.Source, "offset", ev.SourceOffset, "error", err)
	}
}

func (b *batcher) extractFile(ctx context.Context, ev model.RawEvent) {
	if b.cfg.Files == nil {
		return
	}
	sha := ev.Payload.String("shasum")
	if sha == "" {
		return
	}
	url := ev.Payload.String("url")
	var urls []string
	if url != "" {
		urls = []string{url}
	}

	f := model.FileArtifact{
		SHA256:     sha,
		FirstSeen:  ev.EventTimestamp,
		LastSeen:   ev.EventTimestamp,
		Size:       ev.Payload.Int64("size"),
		URLSamples: urls,
	}
	if err := b.cfg.Files.Upsert(ctx, f); err != nil {
		b.cfg.Log.Warn("file artifact fact extraction failed", "source", ev.Source, "offset", ev.SourceOffset, "error", err)
	}
}

func firstNonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
