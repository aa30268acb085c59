package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/evetabi/predex/internal/config"
	"github.com/evetabi/predex/internal/domain"
	"github.com/evetabi/predex/internal/repository"
	"github.com/google/uuid"
)

// BlobWriter stores one object. Implemented by blob/s3.Writer.
type BlobWriter interface {
	Put(ctx context.Context, key string, data io.Reader, contentType string) error
}

// archiveHeader is the first line of an archived ledger.
type archiveHeader struct {
	Market *domain.Market             `json:"market"`
	Audit  *domain.ConservationReport `json:"audit,omitempty"`
	Count  int                        `json:"entries"`
}

// ArchiveService copies the ledger of finished markets to object storage as
// JSON lines and stamps ArchivedAt. The database ledger is kept.
type ArchiveService struct {
	base
	writer BlobWriter
	audit  *AuditService
}

// NewArchiveService creates an ArchiveService. A nil writer disables it.
func NewArchiveService(store repository.Store, cfg *config.Config, logger *slog.Logger, writer BlobWriter, audit *AuditService) *ArchiveService {
	return &ArchiveService{base: newBase(store, cfg, logger), writer: writer, audit: audit}
}

// Enabled reports whether a blob writer is configured.
func (s *ArchiveService) Enabled() bool { return s.writer != nil }

// ArchiveMarket writes the ledger of one settled or cancelled market.
func (s *ArchiveService) ArchiveMarket(ctx context.Context, marketID uuid.UUID) (string, error) {
	if s.writer == nil {
		return "", fmt.Errorf("archive_service.ArchiveMarket: %w", domain.ErrServiceUnavailable)
	}
	m, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		return "", fmt.Errorf("archive_service.ArchiveMarket: %w", err)
	}
	if !m.Status.IsTerminal() || (m.Status == domain.StatusResolved && m.SettledAt == nil) {
		return "", fmt.Errorf("archive_service.ArchiveMarket: %w", domain.ErrMarketNotResolved)
	}

	entries, err := s.store.ListLedger(ctx, marketID)
	if err != nil {
		return "", fmt.Errorf("archive_service.ArchiveMarket: ledger: %w", err)
	}
	header := archiveHeader{Market: m, Count: len(entries)}
	if m.Status == domain.StatusResolved && s.audit != nil {
		if header.Audit, err = s.audit.VerifyConservation(ctx, marketID); err != nil {
			return "", fmt.Errorf("archive_service.ArchiveMarket: %w", err)
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err = enc.Encode(header); err != nil {
		return "", fmt.Errorf("archive_service.ArchiveMarket: encode: %w", err)
	}
	for _, e := range entries {
		if err = enc.Encode(e); err != nil {
			return "", fmt.Errorf("archive_service.ArchiveMarket: encode: %w", err)
		}
	}

	ended := m.UpdatedAt
	if m.ResolvedAt != nil {
		ended = *m.ResolvedAt
	}
	key := fmt.Sprintf("%s/%s.jsonl", ended.UTC().Format("2006/01/02"), marketID)
	if err = s.writer.Put(ctx, key, &buf, "application/x-ndjson"); err != nil {
		return "", fmt.Errorf("archive_service.ArchiveMarket: put: %w", err)
	}

	now := s.clock()
	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		locked, err := tx.LockMarket(ctx, marketID)
		if err != nil {
			return err
		}
		locked.ArchivedAt = &now
		locked.UpdatedAt = now
		return tx.UpdateMarket(ctx, locked)
	})
	if err != nil {
		return "", fmt.Errorf("archive_service.ArchiveMarket: stamp: %w", err)
	}

	s.logger.Info("ledger archived", "market", marketID, "key", key, "entries", len(entries))
	return key, nil
}

// SweepArchive archives finished markets. A single failing market does NOT
// abort the others.
func (s *ArchiveService) SweepArchive(ctx context.Context, limit int) (int, error) {
	if s.writer == nil {
		return 0, nil
	}
	ids, err := s.store.ListMarketIDs(ctx, repository.SweepUnarchived, s.clock(), limit)
	if err != nil {
		return 0, fmt.Errorf("archive_service.SweepArchive: list: %w", err)
	}
	n := 0
	for _, id := range ids {
		if _, err := s.ArchiveMarket(ctx, id); err != nil {
			s.logger.Error("archive market", "market", id, "err", err)
			continue
		}
		n++
	}
	return n, nil
}
