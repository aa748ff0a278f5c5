package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repo is the MySQL-backed Store.
type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo { return &Repo{db: db} }

func (r *Repo) FindAll(ctx context.Context, f Filter) ([]Payment, error) {
	var out []Payment
	if err := r.scope(ctx, f).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) FindOne(ctx context.Context, f Filter) (*Payment, error) {
	var p Payment
	if err := r.scope(ctx, f).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// Save upserts by id under a row lock. The stored status gates the
// update: a snapshot whose status no longer matches is rejected, which
// keeps Save from undoing a concurrent SetStatus. An insert is never
// combined with ON DUPLICATE KEY: that clause matches any unique
// index, and a pending_key collision must fail loudly instead of
// rewriting another row.
func (r *Repo) Save(ctx context.Context, p *Payment) error {
	p.SyncPendingKey()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur Payment
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&cur, "id = ?", p.ID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(p).Error
		}
		if err != nil {
			return err
		}
		if cur.Status != p.Status {
			return ErrStatusConflict
		}
		return tx.Model(&Payment{}).
			Where("id = ?", p.ID).
			Select("*").Omit(clause.PrimaryKey).
			Updates(p).Error
	})
	if err != nil {
		// A 1062 on ux_payments_pending_key means a second PENDING row
		// raced in for the same creator.
		if isDup(err) {
			return ErrDuplicatePending
		}
		return err
	}
	return nil
}

func (r *Repo) SetStatus(ctx context.Context, id string, from []Status, to Status) error {
	if to == StatusPending {
		return fmt.Errorf("payments: SetStatus cannot target %s", StatusPending)
	}

	tx := r.db.WithContext(ctx).Model(&Payment{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(map[string]any{
			"status":      to,
			"pending_key": nil,
		})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

func (r *Repo) scope(ctx context.Context, f Filter) *gorm.DB {
	q := r.db.WithContext(ctx).Model(&Payment{})
	if f.ID != "" {
		q = q.Where("id = ?", f.ID)
	}
	if f.Creator != "" {
		q = q.Where("creator = ?", f.Creator)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	return q
}

func isDup(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}
