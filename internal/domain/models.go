package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Kind names an entity collection in the ledger.
type Kind string

const (
	KindPartner   Kind = "partner"
	KindStockItem Kind = "stock_item"
	KindPurchase  Kind = "purchase"
	KindInvoice   Kind = "invoice"
)

// Kinds lists every collection in sync order (parents before children).
var Kinds = []Kind{KindPartner, KindStockItem, KindPurchase, KindInvoice}

func ParseKind(s string) (Kind, bool) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

type SyncState string

const (
	SyncPending SyncState = "pending"
	SyncSynced  SyncState = "synced"
	SyncError   SyncState = "error"
)

// SyncMeta is carried by every ledger row. It never travels to the cloud
// inside a record body; the cloud envelope has its own id and revision.
type SyncMeta struct {
	CloudID   string    `db:"cloud_id" json:"-"`
	SyncState SyncState `db:"sync_state" json:"sync_state,omitempty"`
	RemoteRev int64     `db:"remote_rev" json:"-"`
	Deleted   bool      `db:"deleted" json:"-"`
	// PendingOps counts local mutations not yet acknowledged by the cloud.
	PendingOps int    `db:"pending_ops" json:"-"`
	CreatedAt  string `db:"created_at" json:"created_at"`
	UpdatedAt  string `db:"updated_at" json:"updated_at"`
}

// Record is implemented by every entity type stored in the ledger.
type Record interface {
	Kind() Kind
	RecordID() string
	Owner() string
	Meta() *SyncMeta
}

type PartnerRole string

const (
	RoleFarmer PartnerRole = "farmer"
	RoleBuyer  PartnerRole = "buyer"
)

type Partner struct {
	ID      string      `db:"id" json:"id"`
	Name    string      `db:"name" json:"name"`
	Role    PartnerRole `db:"role" json:"role"` // farmer | buyer
	Phone   string      `db:"phone" json:"phone"`
	Address string      `db:"address" json:"address"`
	OwnerID string      `db:"owner_id" json:"owner_id"`
	SyncMeta
}

func (p *Partner) Kind() Kind       { return KindPartner }
func (p *Partner) RecordID() string { return p.ID }
func (p *Partner) Owner() string    { return p.OwnerID }
func (p *Partner) Meta() *SyncMeta  { return &p.SyncMeta }

// MaskedPhone keeps only the last three digits visible.
func (p *Partner) MaskedPhone() string {
	if len(p.Phone) <= 3 {
		return p.Phone
	}
	return strings.Repeat("*", len(p.Phone)-3) + p.Phone[len(p.Phone)-3:]
}

// Variant is one weight/rate/quantity combination a stock item is held in.
type Variant struct {
	ID         string          `json:"id"`
	WeightKg   float64         `json:"weight_kg"`
	RatePerBag decimal.Decimal `json:"rate_per_bag"`
	Quantity   int             `json:"quantity"` // bags
	TotalValue decimal.Decimal `json:"total_value"`
}

// Variants is stored as a JSON column.
type Variants []Variant

func (v Variants) Value() (driver.Value, error) {
	if v == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]Variant(v))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (v *Variants) Scan(src any) error {
	var b []byte
	switch s := src.(type) {
	case nil:
		*v = Variants{}
		return nil
	case string:
		b = []byte(s)
	case []byte:
		b = s
	default:
		return fmt.Errorf("variants: cannot scan %T", src)
	}
	var out []Variant
	if err := json.Unmarshal(b, &out); err != nil {
		return err
	}
	*v = out
	return nil
}

type StockItem struct {
	ID            string          `db:"id" json:"id"`
	ItemName      string          `db:"item_name" json:"item_name"`
	CategoryID    string          `db:"category_id" json:"category_id"`
	Variants      Variants        `db:"variants_json" json:"variants"`
	TotalQuantity float64         `db:"total_quantity" json:"total_quantity"`
	TotalBags     int             `db:"total_bags" json:"total_bags"`
	TotalValue    decimal.Decimal `db:"total_value" json:"total_value"`
	OwnerID       string          `db:"owner_id" json:"owner_id"`
	SyncMeta
}

func (s *StockItem) Kind() Kind       { return KindStockItem }
func (s *StockItem) RecordID() string { return s.ID }
func (s *StockItem) Owner() string    { return s.OwnerID }
func (s *StockItem) Meta() *SyncMeta  { return &s.SyncMeta }

type Purchase struct {
	ID           string          `db:"id" json:"id"`
	PartnerID    string          `db:"partner_id" json:"partner_id"`
	CropName     string          `db:"crop_name" json:"crop_name"`
	Quantity     float64         `db:"quantity" json:"quantity"`
	Rate         decimal.Decimal `db:"rate" json:"rate"`
	TotalAmount  decimal.Decimal `db:"total_amount" json:"total_amount"`
	PurchaseDate string          `db:"purchase_date" json:"purchase_date"`
	OwnerID      string          `db:"owner_id" json:"owner_id"`
	SyncMeta
}

func (p *Purchase) Kind() Kind       { return KindPurchase }
func (p *Purchase) RecordID() string { return p.ID }
func (p *Purchase) Owner() string    { return p.OwnerID }
func (p *Purchase) Meta() *SyncMeta  { return &p.SyncMeta }

type PaymentStatus string

const (
	PaymentPaid    PaymentStatus = "paid"
	PaymentUnpaid  PaymentStatus = "unpaid"
	PaymentPartial PaymentStatus = "partial"
)

type TradeSide string

const (
	SideBuy  TradeSide = "buy"
	SideSell TradeSide = "sell"
)

type Invoice struct {
	ID              string          `db:"id" json:"id"`
	PartnerID       string          `db:"partner_id" json:"partner_id"`
	Side            TradeSide       `db:"side" json:"side"`
	TotalValue      decimal.Decimal `db:"total_value" json:"total_value"`
	PaidAmount      decimal.Decimal `db:"paid_amount" json:"paid_amount"`
	RemainingAmount decimal.Decimal `db:"remaining_amount" json:"remaining_amount"`
	PaymentStatus   PaymentStatus   `db:"payment_status" json:"payment_status"`
	OwnerID         string          `db:"owner_id" json:"owner_id"`
	SyncMeta
}

func (i *Invoice) Kind() Kind       { return KindInvoice }
func (i *Invoice) RecordID() string { return i.ID }
func (i *Invoice) Owner() string    { return i.OwnerID }
func (i *Invoice) Meta() *SyncMeta  { return &i.SyncMeta }

// NewRecord returns an empty record of the given kind.
func NewRecord(k Kind) (Record, error) {
	switch k {
	case KindPartner:
		return &Partner{}, nil
	case KindStockItem:
		return &StockItem{}, nil
	case KindPurchase:
		return &Purchase{}, nil
	case KindInvoice:
		return &Invoice{}, nil
	}
	return nil, fmt.Errorf("unknown record kind %q", k)
}

// DecodeRecord unmarshals a JSON record body of the given kind.
func DecodeRecord(k Kind, data []byte) (Record, error) {
	rec, err := NewRecord(k)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", k, err)
	}
	return rec, nil
}

// Owner is a device owner able to log in to the local API.
type Owner struct {
	ID   string `db:"id"`
	Name string `db:"name"`
	Hash string `db:"pin_hash"`
}
