package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/groundsignal/groundsignal/internal/ledger/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) domain.Repository {
	return &repository{db: db}
}

func (r *repository) UpsertTransaction(ctx context.Context, tx *domain.Transaction) (bool, error) {
	res := r.db.WithContext(ctx).Exec(
		`INSERT INTO transactions (
			id, org_id, external_id, occurred_at, gross_cents, fee_cents, net_cents,
			donor_email, donor_phone_hash, refcode, refcode_alt, click_id, recurring, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (org_id, external_id) DO NOTHING`,
		tx.ID,
		tx.OrgID,
		tx.ExternalID,
		tx.OccurredAt,
		tx.GrossCents,
		tx.FeeCents,
		tx.NetCents,
		tx.DonorEmail,
		tx.DonorPhoneHash,
		tx.Refcode,
		tx.RefcodeAlt,
		tx.ClickID,
		tx.Recurring,
		tx.CreatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) FindTransaction(ctx context.Context, orgID, txID snowflake.ID) (*domain.Transaction, error) {
	var item domain.Transaction
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM transactions WHERE org_id = ? AND id = ? LIMIT 1`,
		orgID,
		txID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, domain.ErrTransactionNotFound
	}
	return &item, nil
}

func (r *repository) ListTransactions(ctx context.Context, orgID snowflake.ID, from, to time.Time) ([]domain.Transaction, error) {
	var items []domain.Transaction
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM transactions
		 WHERE org_id = ? AND occurred_at >= ? AND occurred_at < ?
		 ORDER BY occurred_at ASC`,
		orgID,
		from,
		to,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) ListTransactionsWithRefcode(ctx context.Context, orgID snowflake.ID, from, to time.Time) ([]domain.Transaction, error) {
	var items []domain.Transaction
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM transactions
		 WHERE org_id = ? AND occurred_at >= ? AND occurred_at < ? AND refcode <> ''
		 ORDER BY occurred_at ASC`,
		orgID,
		from,
		to,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) AttachPhoneHash(ctx context.Context, orgID snowflake.ID, externalID, phoneHash string) error {
	if orgID == 0 {
		return domain.ErrInvalidOrganization
	}
	if strings.TrimSpace(phoneHash) == "" {
		return domain.ErrInvalidPhoneHash
	}
	res := r.db.WithContext(ctx).Exec(
		`UPDATE transactions
		 SET donor_phone_hash = ?
		 WHERE org_id = ? AND external_id = ? AND donor_phone_hash = ''`,
		phoneHash,
		orgID,
		externalID,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrTransactionNotFound
	}
	return nil
}

func (r *repository) Totals(ctx context.Context, orgID snowflake.ID, from, to time.Time) (domain.LedgerTotals, error) {
	var totals domain.LedgerTotals
	err := r.db.WithContext(ctx).Raw(
		`SELECT COUNT(1) AS count, COALESCE(SUM(gross_cents), 0) AS total_cents
		 FROM transactions
		 WHERE org_id = ? AND occurred_at >= ? AND occurred_at < ?`,
		orgID,
		from,
		to,
	).Scan(&totals).Error
	if err != nil {
		return domain.LedgerTotals{}, err
	}
	return totals, nil
}

func (r *repository) FindTouchpointByClickID(ctx context.Context, orgID snowflake.ID, clickID string) (*domain.Touchpoint, error) {
	return r.findTouchpointByMetaKey(ctx, orgID, domain.MetaKeyClickID, clickID)
}

func (r *repository) FindTouchpointByCookie(ctx context.Context, orgID snowflake.ID, cookie string) (*domain.Touchpoint, error) {
	return r.findTouchpointByMetaKey(ctx, orgID, domain.MetaKeyFBC, cookie)
}

func (r *repository) findTouchpointByMetaKey(ctx context.Context, orgID snowflake.ID, key, value string) (*domain.Touchpoint, error) {
	if value == "" {
		return nil, nil
	}
	var items []domain.Touchpoint
	err := r.db.WithContext(ctx).
		Where("org_id = ?", orgID).
		Where(datatypes.JSONQuery("metadata").Equals(value, key)).
		Order("occurred_at DESC").
		Limit(1).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

func (r *repository) FindLatestTouchpointByEmail(ctx context.Context, orgID snowflake.ID, email string, before time.Time) (*domain.Touchpoint, error) {
	if email == "" {
		return nil, nil
	}
	var items []domain.Touchpoint
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM touchpoints
		 WHERE org_id = ? AND donor_email = ? AND occurred_at < ?
		 ORDER BY occurred_at DESC
		 LIMIT 1`,
		orgID,
		email,
		before,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

func (r *repository) FindLatestLongFormTouchpointByEmail(ctx context.Context, orgID snowflake.ID, email string, before time.Time) (*domain.Touchpoint, error) {
	if email == "" {
		return nil, nil
	}
	var items []domain.Touchpoint
	err := r.db.WithContext(ctx).
		Where("org_id = ? AND donor_email = ? AND occurred_at < ?", orgID, email, before).
		Order("occurred_at DESC").
		Limit(50).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	for i := range items {
		if domain.IsLongFormClickID(items[i].BrowserCookie()) {
			return &items[i], nil
		}
	}
	return nil, nil
}

func (r *repository) ListReviewableConversionEvents(ctx context.Context, orgID snowflake.ID, limit int) ([]domain.ConversionEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var items []domain.ConversionEvent
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM conversion_events
		 WHERE org_id = ?
		   AND status NOT IN (?, ?)
		   AND LENGTH(click_id) >= ?
		 ORDER BY occurred_at DESC
		 LIMIT ?`,
		orgID,
		domain.EventStatusSuperseded,
		domain.EventStatusMisattributed,
		domain.MinLongFormClickIDLen,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) MarkEventMisattributed(ctx context.Context, eventID snowflake.ID, metadata map[string]any) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE conversion_events
		 SET status = ?, metadata = ?
		 WHERE id = ?`,
		domain.EventStatusMisattributed,
		datatypes.JSONMap(metadata),
		eventID,
	).Error
}
