package portfolio

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

type fileDocument struct {
	Mortgages []fileMortgage `yaml:"mortgages" validate:"dive"`
	Alerts    []fileAlert    `yaml:"alerts" validate:"dive"`
}

type fileMortgage struct {
	ID                  int64   `yaml:"id" validate:"required,gt=0"`
	Principal           float64 `yaml:"principal" validate:"gt=0"`
	Rate                float64 `yaml:"rate" validate:"gte=0,lt=1"`
	TermMonths          int     `yaml:"term_months" validate:"gt=0"`
	RemainingPrincipal  float64 `yaml:"remaining_principal" validate:"gte=0"`
	RemainingTermMonths int     `yaml:"remaining_term_months" validate:"gte=0"`
	ZipCode             string  `yaml:"zip_code"`
}

type fileAlert struct {
	ID                int64      `yaml:"id" validate:"required,gt=0"`
	MortgageID        int64      `yaml:"mortgage_id" validate:"required,gt=0"`
	Kind              string     `yaml:"kind" validate:"required,oneof=rate payment"`
	TargetRate        *float64   `yaml:"target_rate" validate:"required_if=Kind rate,omitempty,gte=0,lt=1"`
	TargetPayment     *float64   `yaml:"target_payment" validate:"required_if=Kind payment,omitempty,gt=0"`
	TargetTermMonths  int        `yaml:"target_term_months" validate:"gt=0"`
	EstimatedRefiCost float64    `yaml:"estimated_refi_cost" validate:"gte=0"`
	Active            *bool      `yaml:"active"`
	Paused            bool       `yaml:"paused"`
	DeletedAt         *time.Time `yaml:"deleted_at"`
}

// FileRepository serves mortgages and alerts from a YAML document. The file
// is re-read on every call so edits are picked up by a running scheduler.
type FileRepository struct {
	path string
}

// NewFileRepository validates the document at path once and returns a
// repository over it.
func NewFileRepository(path string) (*FileRepository, error) {
	repo := &FileRepository{path: path}
	if _, err := repo.load(); err != nil {
		return nil, err
	}
	return repo, nil
}

type snapshot struct {
	mortgages map[int64]Mortgage
	alerts    []Alert
}

func (r *FileRepository) load() (*snapshot, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("read portfolio file %s: %w", r.path, err)
	}
	return parseDocument(data)
}

// parseDocument decodes and validates a YAML portfolio.
func parseDocument(data []byte) (*snapshot, error) {
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse portfolio: %w", err)
	}
	if err := validate.Struct(doc); err != nil {
		return nil, fmt.Errorf("validate portfolio: %w", err)
	}

	snap := &snapshot{mortgages: make(map[int64]Mortgage, len(doc.Mortgages))}
	for _, m := range doc.Mortgages {
		if _, dup := snap.mortgages[m.ID]; dup {
			return nil, fmt.Errorf("validate portfolio: duplicate mortgage id %d", m.ID)
		}
		snap.mortgages[m.ID] = Mortgage{
			ID:                  m.ID,
			Principal:           decimal.NewFromFloat(m.Principal),
			Rate:                decimal.NewFromFloat(m.Rate),
			TermMonths:          m.TermMonths,
			RemainingPrincipal:  decimal.NewFromFloat(m.RemainingPrincipal),
			RemainingTermMonths: m.RemainingTermMonths,
			ZipCode:             m.ZipCode,
		}
	}

	for _, a := range doc.Alerts {
		alert := Alert{
			ID:                a.ID,
			MortgageID:        a.MortgageID,
			Kind:              AlertKind(a.Kind),
			TargetTermMonths:  a.TargetTermMonths,
			EstimatedRefiCost: decimal.NewFromFloat(a.EstimatedRefiCost),
			Active:            a.Active == nil || *a.Active,
			Paused:            a.Paused,
			DeletedAt:         a.DeletedAt,
		}
		if a.TargetRate != nil {
			v := decimal.NewFromFloat(*a.TargetRate)
			alert.TargetRate = &v
		}
		if a.TargetPayment != nil {
			v := decimal.NewFromFloat(*a.TargetPayment)
			alert.TargetPayment = &v
		}
		if err := alert.Validate(); err != nil {
			return nil, fmt.Errorf("validate portfolio: %w", err)
		}
		snap.alerts = append(snap.alerts, alert)
	}
	return snap, nil
}

// GetMortgage returns the mortgage with id.
func (r *FileRepository) GetMortgage(_ context.Context, id int64) (Mortgage, error) {
	snap, err := r.load()
	if err != nil {
		return Mortgage{}, err
	}
	m, ok := snap.mortgages[id]
	if !ok {
		return Mortgage{}, fmt.Errorf("mortgage %d: %w", id, ErrMortgageNotFound)
	}
	return m, nil
}

// ListEligible returns the eligible alerts in file order.
func (r *FileRepository) ListEligible(_ context.Context) ([]Alert, error) {
	snap, err := r.load()
	if err != nil {
		return nil, err
	}
	out := make([]Alert, 0, len(snap.alerts))
	for _, a := range snap.alerts {
		if a.Eligible() {
			out = append(out, a)
		}
	}
	return out, nil
}

var (
	_ MortgageRepository = (*FileRepository)(nil)
	_ AlertRepository    = (*FileRepository)(nil)
)
