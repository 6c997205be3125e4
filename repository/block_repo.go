package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/hexresearch/hexstody-sub000/model"
)

// BlockRepository keeps the blocks a chain scanner already processed.
type BlockRepository struct {
	db    *gorm.DB
	chain string
}

func NewBlockRepository(db *gorm.DB, chain string) *BlockRepository {
	return &BlockRepository{db: db, chain: chain}
}

// Last returns the highest processed block, 0 and "" when nothing is stored.
func (r *BlockRepository) Last(ctx context.Context) (int64, string, error) {
	var pb model.ProcessedBlock
	err := r.db.WithContext(ctx).
		Where("chain = ?", r.chain).
		Order("block_number desc").
		Take(&pb).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", err
	}
	return pb.BlockNumber, pb.BlockHash, nil
}

func (r *BlockRepository) Save(ctx context.Context, number int64, hash string) error {
	pb := model.ProcessedBlock{
		Chain:       r.chain,
		BlockNumber: number,
		BlockHash:   hash,
	}
	return r.db.WithContext(ctx).Create(&pb).Error
}

// Recent lists the newest processed blocks, newest first.
func (r *BlockRepository) Recent(ctx context.Context, depth int) ([]model.ProcessedBlock, error) {
	var pbs []model.ProcessedBlock
	if err := r.db.WithContext(ctx).
		Where("chain = ?", r.chain).
		Order("block_number desc").
		Limit(depth).
		Find(&pbs).Error; err != nil {
		return nil, err
	}
	return pbs, nil
}

// RollbackTo forgets every block above number.
func (r *BlockRepository) RollbackTo(ctx context.Context, number int64) error {
	return r.db.WithContext(ctx).
		Where("chain = ? AND block_number > ?", r.chain, number).
		Delete(&model.ProcessedBlock{}).Error
}
