package catalog

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"stockplane/pkg/errutil"
	"stockplane/pkg/repository"
)

type Service struct {
	db           *gorm.DB
	node         *snowflake.Node
	clients      repository.Repository[Client]
	products     repository.Repository[Product]
	transactions repository.Repository[Transaction]
}

type Params struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p Params) *Service {
	return &Service{
		db:           p.DB,
		node:         p.Node,
		clients:      repository.ProvideStore[Client](p.DB),
		products:     repository.ProvideStore[Product](p.DB),
		transactions: repository.ProvideStore[Transaction](p.DB),
	}
}

// CreateClient registers a tenant. The code defaults to a slug of the name.
func (s *Service) CreateClient(ctx context.Context, name, code string) (*Client, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errutil.BadRequest("client name is required", nil)
	}

	if code == "" {
		code = slug.Make(name)
	}

	exist, err := s.clients.FindOne(ctx, &Client{Code: code})
	if err != nil {
		zap.L().Error("failed to check existing client", zap.Error(err))
		return nil, errutil.Internal("failed to check existing client", err)
	}
	if exist != nil {
		return nil, errutil.Conflict("client code already exists", nil)
	}

	client := &Client{
		ID:     s.node.Generate(),
		Code:   code,
		Name:   strings.TrimSpace(name),
		Status: ClientActive,
	}
	if err := s.clients.Create(ctx, client); err != nil {
		zap.L().Error("failed to create client", zap.Error(err))
		return nil, errutil.Internal("failed to create client", err)
	}

	return client, nil
}

// ActiveClient resolves a client code and enforces that imports are only
// accepted for active tenants.
func (s *Service) ActiveClient(ctx context.Context, code string) (*Client, error) {
	client, err := s.clients.FindOne(ctx, &Client{Code: code})
	if err != nil {
		return nil, errutil.Internal("failed to query client", err)
	}
	if client == nil {
		return nil, errutil.NotFound("client not found or inactive", nil)
	}
	if client.Status != ClientActive {
		return nil, errutil.UnprocessableEntity("client not found or inactive", nil)
	}
	return client, nil
}

// GetClient loads a client by primary id.
func (s *Service) GetClient(ctx context.Context, id snowflake.ID) (*Client, error) {
	return s.clients.FindOne(ctx, &Client{ID: id})
}

// ClientByCode loads a client by its public code regardless of status.
func (s *Service) ClientByCode(ctx context.Context, code string) (*Client, error) {
	return s.clients.FindOne(ctx, &Client{Code: code})
}

// ProductRef is the slice of a product the import worker needs to resolve
// order rows: the foreign key and the pack size for unit derivation.
type ProductRef struct {
	ID       snowflake.ID
	PackSize int
}

// ProductIndex preloads every SKU the client owns. The import worker uses
// it to resolve order rows to product foreign keys without per-row queries.
func (s *Service) ProductIndex(ctx context.Context, clientID snowflake.ID) (map[string]ProductRef, error) {
	rows, err := s.products.Find(ctx, &Product{ClientID: clientID})
	if err != nil {
		return nil, err
	}

	index := make(map[string]ProductRef, len(rows))
	for _, p := range rows {
		index[p.SKU] = ProductRef{ID: p.ID, PackSize: p.PackSize}
	}
	return index, nil
}

// importedColumns limits inventory re-imports to the identity and stock
// columns. Usage and timing columns belong to the recalculator and must
// survive the update.
func importedColumns(p *Product) map[string]any {
	cols := map[string]any{
		"name":                p.Name,
		"item_type":           p.ItemType,
		"pack_size":           p.PackSize,
		"current_stock_packs": p.CurrentStockPacks,
		"current_stock_units": p.CurrentStockUnits,
		"notification_point":  p.NotificationPoint,
		"custom_fields":       p.CustomFields,
		"import_batch_id":     p.ImportBatchID,
		"is_active":           true,
		"is_orphan":           false,
	}
	if p.UnitPrice > 0 {
		cols["unit_price"] = p.UnitPrice
	}
	return cols
}

// SaveImported applies one cleaned inventory chunk atomically. New SKUs are
// inserted, known SKUs get their stock columns refreshed.
func (s *Service) SaveImported(ctx context.Context, creates, updates []*Product) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		products := s.products.WithTrx(tx)

		if err := products.BatchCreate(ctx, creates); err != nil {
			zap.L().Error("failed to insert imported products", zap.Error(err))
			return err
		}

		for _, p := range updates {
			if err := products.Update(ctx, p.ID.String(), importedColumns(p)); err != nil {
				zap.L().Error("failed to update imported product",
					zap.String("sku", p.SKU), zap.Error(err))
				return err
			}
		}

		return nil
	})
}

// CreateOrphan registers a placeholder product for an order row whose SKU is
// not in the catalog yet. The SKU doubles as the name until a real inventory
// import fills it in.
func (s *Service) CreateOrphan(ctx context.Context, clientID snowflake.ID, sku string, batchID snowflake.ID) (*Product, error) {
	product := &Product{
		ID:            s.node.Generate(),
		ClientID:      clientID,
		SKU:           sku,
		Name:          sku,
		PackSize:      1,
		LeadDays:      5,
		ReviewDays:    7,
		IsActive:      true,
		IsOrphan:      true,
		ImportBatchID: batchID,
	}
	if err := s.products.Create(ctx, product); err != nil {
		return nil, err
	}
	return product, nil
}

// InsertTransactions appends one cleaned order chunk.
func (s *Service) InsertTransactions(ctx context.Context, rows []*Transaction) error {
	return s.transactions.BatchCreate(ctx, rows)
}

// DeleteTransactionsForBatch removes every order row a batch persisted.
// Chunks commit independently, so a retried batch purges what an
// interrupted run left behind before replaying the file.
func (s *Service) DeleteTransactionsForBatch(ctx context.Context, batchID snowflake.ID) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("import_batch_id = ?", batchID).
		Delete(&Transaction{})
	return res.RowsAffected, res.Error
}

// Totals is the coarse health signal surfaced by the stats endpoint.
type Totals struct {
	Clients      int64 `json:"clients"`
	Products     int64 `json:"products"`
	Transactions int64 `json:"transactions"`
}

func (s *Service) Totals(ctx context.Context) (*Totals, error) {
	clients, err := s.clients.Count(ctx, nil)
	if err != nil {
		return nil, err
	}
	products, err := s.products.Count(ctx, nil)
	if err != nil {
		return nil, err
	}
	transactions, err := s.transactions.Count(ctx, nil)
	if err != nil {
		return nil, err
	}

	return &Totals{
		Clients:      clients,
		Products:     products,
		Transactions: transactions,
	}, nil
}
