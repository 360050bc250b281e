package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/DoyleJ11/spin-rooms/internal/fairness"
	"github.com/DoyleJ11/spin-rooms/pkg/types"
)

type roomModel struct {
	Code      string `gorm:"primaryKey;size:6"`
	HostName  string `gorm:"size:32;not null"`
	Active    bool   `gorm:"not null;default:true;index"`
	CreatedAt time.Time
	ClosedAt  *time.Time
}

func (roomModel) TableName() string { return "rooms" }

type wheelModel struct {
	ID        string        `gorm:"primaryKey;type:uuid"`
	RoomCode  *string       `gorm:"size:6;index"`
	Options   []optionModel `gorm:"foreignKey:WheelID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time     `gorm:"index"`
}

func (wheelModel) TableName() string { return "wheels" }

type optionModel struct {
	WheelID  string  `gorm:"primaryKey;type:uuid"`
	ID       string  `gorm:"primaryKey;size:64"`
	Position int     `gorm:"not null"`
	Label    string  `gorm:"size:64;not null"`
	Color    string  `gorm:"size:7;not null"`
	Weight   float64 `gorm:"not null"`
}

func (optionModel) TableName() string { return "wheel_options" }

type spinModel struct {
	ID           string `gorm:"primaryKey;type:uuid"`
	RoomCode     string `gorm:"size:6;index"`
	WheelID      string `gorm:"type:uuid;uniqueIndex:idx_spins_wheel_nonce"`
	Spinner      string `gorm:"size:32"`
	ServerSeed   string `gorm:"size:64;not null"`
	ClientSeed   string `gorm:"size:64;not null"`
	Nonce        uint64 `gorm:"not null;uniqueIndex:idx_spins_wheel_nonce"`
	CombinedHash string `gorm:"size:64;not null"`
	ResultValue  float64
	OptionID     string    `gorm:"size:64"`
	OptionLabel  string    `gorm:"size:64"`
	CreatedAt    time.Time `gorm:"index"`
}

func (spinModel) TableName() string { return "spins" }

// GormStore is the Postgres-backed Store.
type GormStore struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewGormStore(ctx context.Context, dsn string, log *zap.Logger) (*GormStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	s := &GormStore{db: db, log: log.Named("store")}
	if err := s.migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *GormStore) migrate(ctx context.Context) error {
	err := s.db.WithContext(ctx).AutoMigrate(&roomModel{}, &wheelModel{}, &optionModel{}, &spinModel{})
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	s.log.Info("schema migrated")
	return nil
}

func (s *GormStore) CreateRoom(ctx context.Context, code, hostName string) (RoomRecord, error) {
	m := roomModel{Code: code, HostName: hostName, Active: true}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return RoomRecord{}, translate(err)
	}
	return m.record(), nil
}

func (s *GormStore) FindRoomByCode(ctx context.Context, code string) (RoomRecord, error) {
	db := s.db.WithContext(ctx)

	var m roomModel
	if err := db.First(&m, "code = ?", code).Error; err != nil {
		return RoomRecord{}, translate(err)
	}
	rec := m.record()

	var w wheelModel
	err := db.Preload("Options", byPosition).
		Where("room_code = ?", code).Order("created_at DESC").Limit(1).Find(&w).Error
	if err != nil {
		return RoomRecord{}, translate(err)
	}
	if w.ID != "" {
		rec.Options = w.options()
	}
	return rec, nil
}

func (s *GormStore) CloseRoom(ctx context.Context, code string) error {
	res := s.db.WithContext(ctx).Model(&roomModel{}).
		Where("code = ? AND active", code).
		Updates(map[string]any{"active": false, "closed_at": time.Now().UTC()})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		var n int64
		if err := s.db.WithContext(ctx).Model(&roomModel{}).Where("code = ?", code).Count(&n).Error; err != nil {
			return translate(err)
		}
		if n == 0 {
			return ErrNotFound
		}
	}
	return nil
}

func (s *GormStore) CreateWheel(ctx context.Context, w Wheel) (Wheel, error) {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	m := wheelModel{ID: w.ID, CreatedAt: w.CreatedAt}
	if w.RoomCode != "" {
		code := w.RoomCode
		m.RoomCode = &code
	}
	for i, o := range w.Options {
		m.Options = append(m.Options, optionModel{
			WheelID:  w.ID,
			ID:       o.ID,
			Position: i,
			Label:    o.Label,
			Color:    o.Color,
			Weight:   o.Weight,
		})
	}
	// Create writes the wheel and its options in one transaction.
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return Wheel{}, translate(err)
	}
	w.CreatedAt = m.CreatedAt
	return w, nil
}

func (s *GormStore) FindWheel(ctx context.Context, id string) (Wheel, error) {
	var m wheelModel
	err := s.db.WithContext(ctx).Preload("Options", byPosition).First(&m, "id = ?", id).Error
	if err != nil {
		return Wheel{}, translate(err)
	}
	return m.wheel(), nil
}

func (s *GormStore) ListWheels(ctx context.Context, limit int) ([]Wheel, error) {
	if limit <= 0 {
		return nil, nil
	}
	var rows []wheelModel
	err := s.db.WithContext(ctx).Preload("Options", byPosition).
		Order("created_at DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, translate(err)
	}
	out := make([]Wheel, 0, len(rows))
	for _, m := range rows {
		out = append(out, m.wheel())
	}
	return out, nil
}

func (s *GormStore) LastNonce(ctx context.Context, wheelID string) (uint64, error) {
	var last uint64
	err := s.db.WithContext(ctx).Model(&spinModel{}).
		Where("wheel_id = ?", wheelID).
		Select("COALESCE(MAX(nonce), 0)").
		Scan(&last).Error
	if err != nil {
		return 0, translate(err)
	}
	return last, nil
}

func (s *GormStore) CreateSpinRecord(ctx context.Context, rec fairness.SpinRecord) error {
	m := spinModel{
		ID:           rec.ID,
		RoomCode:     rec.RoomCode,
		WheelID:      rec.WheelID,
		Spinner:      rec.Spinner,
		ServerSeed:   rec.ServerSeed,
		ClientSeed:   rec.ClientSeed,
		Nonce:        rec.Nonce,
		CombinedHash: rec.CombinedHash,
		ResultValue:  rec.ResultValue,
		OptionID:     rec.OptionID,
		OptionLabel:  rec.OptionLabel,
		CreatedAt:    rec.CreatedAt,
	}
	return translate(s.db.WithContext(ctx).Create(&m).Error)
}

func (s *GormStore) ListSpins(ctx context.Context, wheelID string, limit int) ([]fairness.SpinRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	q := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if wheelID != "" {
		q = q.Where("wheel_id = ?", wheelID)
	}
	var rows []spinModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, translate(err)
	}
	out := make([]fairness.SpinRecord, 0, len(rows))
	for _, m := range rows {
		out = append(out, fairness.SpinRecord{
			ID:           m.ID,
			RoomCode:     m.RoomCode,
			WheelID:      m.WheelID,
			Spinner:      m.Spinner,
			ServerSeed:   m.ServerSeed,
			ClientSeed:   m.ClientSeed,
			Nonce:        m.Nonce,
			CombinedHash: m.CombinedHash,
			ResultValue:  m.ResultValue,
			OptionID:     m.OptionID,
			OptionLabel:  m.OptionLabel,
			CreatedAt:    m.CreatedAt,
		})
	}
	return out, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (m roomModel) record() RoomRecord {
	return RoomRecord{
		Code:      m.Code,
		HostName:  m.HostName,
		Active:    m.Active,
		CreatedAt: m.CreatedAt,
		ClosedAt:  m.ClosedAt,
	}
}

func (w wheelModel) wheel() Wheel {
	out := Wheel{ID: w.ID, Options: w.options(), CreatedAt: w.CreatedAt}
	if w.RoomCode != nil {
		out.RoomCode = *w.RoomCode
	}
	return out
}

func byPosition(tx *gorm.DB) *gorm.DB { return tx.Order("position") }

func (w wheelModel) options() []types.Option {
	out := make([]types.Option, 0, len(w.Options))
	for _, o := range w.Options {
		out = append(out, types.Option{ID: o.ID, Label: o.Label, Color: o.Color, Weight: o.Weight})
	}
	return out
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// unique_violation
		if pgErr.Code == "23505" {
			return ErrDuplicate
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("store: %w", err)
}
