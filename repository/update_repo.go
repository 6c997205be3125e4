package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/hexresearch/hexstody-sub000/model"
	"github.com/hexresearch/hexstody-sub000/state"
)

const replayBatch = 500

// ReplayError means the stored log cannot be folded back into a state. The
// process must not start on top of it.
type ReplayError struct {
	ID  uint64
	Tag string
	Err error
}

func (e *ReplayError) Error() string {
	return fmt.Sprintf("replay update %d (%s): %v", e.ID, e.Tag, e.Err)
}

func (e *ReplayError) Unwrap() error { return e.Err }

// UpdateRepository is the append-only update log.
type UpdateRepository struct {
	db *gorm.DB
}

func NewUpdateRepository(db *gorm.DB) *UpdateRepository {
	return &UpdateRepository{db: db}
}

// Append stores the update and returns the sequence number it got.
func (r *UpdateRepository) Append(ctx context.Context, upd state.Update) (uint64, error) {
	tag, version, body, err := state.Encode(upd.Body)
	if err != nil {
		return 0, err
	}
	rec := model.UpdateRecord{
		Created: upd.Created.UTC(),
		Version: version,
		Tag:     tag,
		Body:    string(body),
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return 0, fmt.Errorf("append %s: %w", tag, err)
	}
	return rec.ID, nil
}

// LatestSnapshot returns the sequence number of the newest snapshot, 0 when
// the log has none.
func (r *UpdateRepository) LatestSnapshot(ctx context.Context) (uint64, error) {
	var rec model.UpdateRecord
	err := r.db.WithContext(ctx).
		Select("id").
		Where("tag = ?", state.TagSnapshot).
		Order("id DESC").
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return rec.ID, nil
}

// QueryState rebuilds the state: it starts from the newest snapshot, or the
// empty state of the network, and folds every later record in log order.
// It also returns how many records were folded after the snapshot.
func (r *UpdateRepository) QueryState(ctx context.Context, network model.Network) (*state.State, int, error) {
	from, err := r.LatestSnapshot(ctx)
	if err != nil {
		return nil, 0, err
	}
	st := state.New(network)
	folded := 0

	var batch []model.UpdateRecord
	res := r.db.WithContext(ctx).
		Where("id >= ?", from).
		FindInBatches(&batch, replayBatch, func(tx *gorm.DB, _ int) error {
			for _, rec := range batch {
				body, err := state.Decode(rec.Tag, rec.Version, []byte(rec.Body))
				if err != nil {
					return &ReplayError{ID: rec.ID, Tag: rec.Tag, Err: err}
				}
				if _, err := st.Apply(state.Update{Created: rec.Created, Body: body}); err != nil {
					return &ReplayError{ID: rec.ID, Tag: rec.Tag, Err: err}
				}
				if rec.Tag != state.TagSnapshot {
					folded++
				}
			}
			return nil
		})
	if res.Error != nil {
		return nil, 0, res.Error
	}
	if st.Network != network {
		return nil, 0, fmt.Errorf("stored state belongs to %s, configured network is %s", st.Network, network)
	}
	return st, folded, nil
}

// Count is the number of records in the log.
func (r *UpdateRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.UpdateRecord{}).Count(&n).Error
	return n, err
}

// Tail lists the newest records first, for audit views.
func (r *UpdateRepository) Tail(ctx context.Context, limit int) ([]model.UpdateRecord, error) {
	var list []model.UpdateRecord
	if err := r.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}
