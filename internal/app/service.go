package app

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"easel/api/internal/blob"
	"easel/api/internal/canvas"
	"easel/api/internal/lock"
	"easel/api/internal/store"
	"easel/api/internal/util"

	"go.uber.org/zap"
)

type versionCatalog interface {
	CreateCanvas(context.Context, store.Canvas) error
	GetCanvas(context.Context, string) (store.Canvas, error)
	SoftDeleteCanvas(context.Context, string) error
	HardDeleteCanvas(context.Context, string) error
	GetVersion(context.Context, string, int64) (store.CanvasVersion, error)
	ListVersions(context.Context, string) ([]store.CanvasVersion, error)
	NextVersion(context.Context, string) (int64, error)
	CommitVersion(context.Context, store.CanvasVersion) error
	Ping(context.Context) error
}

// Service is the canvas state synchronizer: it orchestrates locked
// read-modify-write commits over canvas snapshots, keeps the version
// catalog's head pointer in step with the ledger, and serves consistent
// reads of any committed version.
type Service struct {
	catalog versionCatalog
	blobs   blob.Store
	locks   *lock.Locker
	logger  *zap.Logger
}

func New(catalog versionCatalog, blobs blob.Store, locks *lock.Locker, logger *zap.Logger) *Service {
	return &Service{
		catalog: catalog,
		blobs:   blobs,
		locks:   locks,
		logger:  logger,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.catalog.Ping(ctx)
}

func stateBlobKey(canvasID string, version int64) string {
	return fmt.Sprintf("canvas-state/%s/%d", canvasID, version)
}

type CreateCanvasInput struct {
	ID             string `json:"id"`
	OwnerID        string `json:"ownerId"`
	LegacyStateKey string `json:"legacyStateKey"`
}

func (s *Service) CreateCanvas(ctx context.Context, input CreateCanvasInput) (store.Canvas, error) {
	if input.OwnerID == "" {
		return store.Canvas{}, domainError(http.StatusBadRequest, "INVALID_BODY", "ownerId is required", nil)
	}
	id := input.ID
	if id == "" {
		id = util.NewID("cvs")
	}
	row := store.Canvas{ID: id, OwnerID: input.OwnerID}
	if input.LegacyStateKey != "" {
		row.LegacyStateKey = &input.LegacyStateKey
	}
	if err := s.catalog.CreateCanvas(ctx, row); err != nil {
		if errors.Is(err, store.ErrDuplicateCanvas) {
			return store.Canvas{}, domainError(http.StatusConflict, "CANVAS_EXISTS", "Canvas id already in use", map[string]any{"canvasId": id})
		}
		return store.Canvas{}, err
	}

	// Seed an empty version 1 so the first sync has a version to resolve.
	// Canvases imported with a legacy key stay unversioned; the legacy
	// bridge owns their version 1 on first read.
	if row.LegacyStateKey == nil {
		state := canvas.NewState()
		state.Version = 1
		key, hash, err := s.putState(ctx, id, state)
		if err != nil {
			return store.Canvas{}, err
		}
		if err := s.catalog.CommitVersion(ctx, store.CanvasVersion{
			CanvasID:    id,
			Version:     1,
			BlobKey:     key,
			ContentHash: hash,
		}); err != nil {
			return store.Canvas{}, err
		}
	}

	return s.GetCanvas(ctx, id)
}

func (s *Service) GetCanvas(ctx context.Context, canvasID string) (store.Canvas, error) {
	row, err := s.catalog.GetCanvas(ctx, canvasID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Canvas{}, errCanvasNotFound(canvasID)
	}
	if err != nil {
		return store.Canvas{}, err
	}
	return row, nil
}

// DeleteCanvas soft-deletes by default. With purge it tears the whole
// canvas down: version rows, metadata row, and the snapshot blobs. The
// legacy source blob is left untouched either way.
func (s *Service) DeleteCanvas(ctx context.Context, canvasID string, purge bool) error {
	if _, err := s.GetCanvas(ctx, canvasID); err != nil {
		return err
	}
	if !purge {
		return s.catalog.SoftDeleteCanvas(ctx, canvasID)
	}

	versions, err := s.catalog.ListVersions(ctx, canvasID)
	if err != nil {
		return err
	}
	for _, v := range versions {
		if err := s.blobs.Remove(ctx, v.BlobKey); err != nil {
			s.logger.Warn("purge: snapshot blob removal failed",
				zap.String("canvasId", canvasID),
				zap.String("blobKey", v.BlobKey),
				zap.Error(err))
		}
	}
	return s.catalog.HardDeleteCanvas(ctx, canvasID)
}

func (s *Service) ListVersions(ctx context.Context, canvasID string) ([]store.CanvasVersion, error) {
	if _, err := s.GetCanvas(ctx, canvasID); err != nil {
		return nil, err
	}
	return s.catalog.ListVersions(ctx, canvasID)
}

// GetState loads the snapshot at the explicit version, or at the canvas
// head. A canvas with no head yet falls back to legacy migration when a
// legacy blob is on record, otherwise to a fresh empty state that is not
// persisted.
func (s *Service) GetState(ctx context.Context, canvasID string, version *int64) (*canvas.State, error) {
	row, err := s.GetCanvas(ctx, canvasID)
	if err != nil {
		return nil, err
	}

	target := version
	if target == nil {
		target = row.HeadVersion
	}
	if target == nil {
		if row.LegacyStateKey != nil {
			return s.migrateLegacy(ctx, row)
		}
		return canvas.NewState(), nil
	}

	versionRow, err := s.catalog.GetVersion(ctx, canvasID, *target)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errVersionNotFound(canvasID, target)
	}
	if err != nil {
		return nil, err
	}

	data, ok, err := s.blobs.Get(ctx, versionRow.BlobKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errVersionNotFound(canvasID, target)
	}

	var state canvas.State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", versionRow.BlobKey, err)
	}
	return &state, nil
}

// migrateLegacy materializes version 1 from the pre-versioning document
// blob. Racing first reads are safe: the decode is deterministic over
// read-only source data and the commit converges last-writer-wins.
func (s *Service) migrateLegacy(ctx context.Context, row store.Canvas) (*canvas.State, error) {
	data, ok, err := s.blobs.Get(ctx, *row.LegacyStateKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		data = nil
	}

	nodes, edges := canvas.DecodeLegacy(data)
	state := canvas.NewState()
	state.Version = 1
	state.Nodes = nodes
	state.Edges = edges

	key, hash, err := s.putState(ctx, row.ID, state)
	if err != nil {
		return nil, err
	}
	if err := s.catalog.CommitVersion(ctx, store.CanvasVersion{
		CanvasID:    row.ID,
		Version:     1,
		BlobKey:     key,
		ContentHash: hash,
	}); err != nil {
		return nil, err
	}

	s.logger.Info("migrated legacy canvas state",
		zap.String("canvasId", row.ID),
		zap.Int("nodes", len(nodes)),
		zap.Int("edges", len(edges)))
	return state, nil
}

// GetTransactions returns the suffix of the resolved snapshot's log
// submitted strictly after since. Pure read over an immutable snapshot;
// no lock taken.
func (s *Service) GetTransactions(ctx context.Context, canvasID string, version *int64, since time.Time) ([]canvas.Transaction, error) {
	state, err := s.GetState(ctx, canvasID, version)
	if err != nil {
		return nil, err
	}
	return state.TransactionsSince(since), nil
}

// SaveState is the storage primitive shared by the commit path and
// snapshot copies: it assigns a version when the state has none, writes
// the serialized snapshot, and returns the blob key. It does not touch
// the catalog or the head pointer.
func (s *Service) SaveState(ctx context.Context, canvasID string, state *canvas.State) (string, error) {
	if state.Version == 0 {
		next, err := s.catalog.NextVersion(ctx, canvasID)
		if err != nil {
			return "", err
		}
		state.Version = next
	}
	key, _, err := s.putState(ctx, canvasID, state)
	return key, err
}

func (s *Service) putState(ctx context.Context, canvasID string, state *canvas.State) (key, contentHash string, err error) {
	data, err := json.Marshal(state)
	if err != nil {
		return "", "", fmt.Errorf("encode snapshot: %w", err)
	}
	sum := sha256.Sum256(data)
	key = stateBlobKey(canvasID, state.Version)
	if err := s.blobs.Put(ctx, key, data); err != nil {
		return "", "", err
	}
	return key, hex.EncodeToString(sum[:]), nil
}

// LockState acquires the per-canvas commit lock, retrying with bounded
// backoff before reporting contention as OPERATION_TOO_FREQUENT.
func (s *Service) LockState(ctx context.Context, canvasID string) (*lock.Handle, error) {
	handle, err := s.locks.Lock(ctx, canvasID)
	if errors.Is(err, lock.ErrTooFrequent) {
		return nil, errOperationTooFrequent(canvasID)
	}
	if err != nil {
		return nil, err
	}
	return handle, nil
}

// SyncState is the read-modify-write commit path: under the per-canvas
// lock it loads the state at versionToSync, applies the transactions in
// order, persists the result as a new version, and advances the head
// pointer in the same catalog transaction as the version insert. A
// non-nil held handle marks a re-entrant commit from an already-locked
// context; acquisition is skipped and the caller keeps ownership of its
// handle.
func (s *Service) SyncState(ctx context.Context, canvasID string, transactions []canvas.Transaction, version *int64, held *lock.Handle) error {
	for _, tx := range transactions {
		if err := tx.Validate(); err != nil {
			return domainError(http.StatusBadRequest, "INVALID_DIFF", err.Error(), nil)
		}
	}

	row, err := s.GetCanvas(ctx, canvasID)
	if err != nil {
		return err
	}
	if version == nil && row.HeadVersion == nil {
		return errVersionNotFound(canvasID, nil)
	}

	if len(transactions) == 0 {
		s.logger.Info("sync with empty transaction batch, nothing to do",
			zap.String("canvasId", canvasID))
		return nil
	}

	if held == nil {
		handle, err := s.LockState(ctx, canvasID)
		if err != nil {
			return err
		}
		defer func() {
			if releaseErr := handle.Release(context.WithoutCancel(ctx)); releaseErr != nil {
				s.logger.Warn("release canvas lock",
					zap.String("canvasId", canvasID),
					zap.Error(releaseErr))
			}
		}()
	}

	// Resolve the base under the lock. Concurrent writers that queued on
	// the lock must chain off the head committed by the previous holder,
	// not off a head read before they blocked. Explicit versions keep
	// branch semantics and are used as given.
	versionToSync := version
	if versionToSync == nil {
		row, err = s.GetCanvas(ctx, canvasID)
		if err != nil {
			return err
		}
		versionToSync = row.HeadVersion
		if versionToSync == nil {
			return errVersionNotFound(canvasID, nil)
		}
	}

	state, err := s.GetState(ctx, canvasID, versionToSync)
	if err != nil {
		return err
	}

	next, err := s.catalog.NextVersion(ctx, canvasID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, tx := range transactions {
		tx.SyncedAt = &now
		state.ApplyTransaction(tx)
	}
	state.Version = next

	key, hash, err := s.putState(ctx, canvasID, state)
	if err != nil {
		return err
	}
	if err := s.catalog.CommitVersion(ctx, store.CanvasVersion{
		CanvasID:    canvasID,
		Version:     next,
		BlobKey:     key,
		ContentHash: hash,
	}); err != nil {
		return err
	}

	s.logger.Info("canvas state synchronized",
		zap.String("canvasId", canvasID),
		zap.Int64("fromVersion", *versionToSync),
		zap.Int64("toVersion", next),
		zap.Int("transactions", len(transactions)))
	return nil
}

// DuplicateCanvas copies the source head snapshot into version 1 of a new
// canvas. The transaction log travels with the snapshot.
func (s *Service) DuplicateCanvas(ctx context.Context, srcCanvasID string, input CreateCanvasInput) (store.Canvas, error) {
	state, err := s.GetState(ctx, srcCanvasID, nil)
	if err != nil {
		return store.Canvas{}, err
	}

	created, err := s.CreateCanvas(ctx, CreateCanvasInput{ID: input.ID, OwnerID: input.OwnerID})
	if err != nil {
		return store.Canvas{}, err
	}

	state.Version = 1
	key, hash, err := s.putState(ctx, created.ID, state)
	if err != nil {
		return store.Canvas{}, err
	}
	if err := s.catalog.CommitVersion(ctx, store.CanvasVersion{
		CanvasID:    created.ID,
		Version:     1,
		BlobKey:     key,
		ContentHash: hash,
	}); err != nil {
		return store.Canvas{}, err
	}

	s.logger.Info("canvas duplicated",
		zap.String("sourceCanvasId", srcCanvasID),
		zap.String("canvasId", created.ID))
	return s.GetCanvas(ctx, created.ID)
}
