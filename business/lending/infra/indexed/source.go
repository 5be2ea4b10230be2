// Package indexed discovers at-risk positions from a protocol subgraph.
// One GraphQL query returns accounts already filtered and ordered by
// health factor, with the USD composition the event scan cannot see.
package indexed

import (
	"context"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jm31-art/ultraflashbot/business/lending/domain"
	"github.com/jm31-art/ultraflashbot/internal/apperror"
	"github.com/jm31-art/ultraflashbot/internal/asset"
	"github.com/jm31-art/ultraflashbot/internal/httpclient"
	"github.com/jm31-art/ultraflashbot/internal/logger"
)

const tracerName = "lending.indexed"

const atRiskQuery = `query AtRisk($threshold: String!, $first: Int!) {
  users(
    where: { healthFactor_lt: $threshold, totalDebtUSD_gt: "0" }
    orderBy: healthFactor
    orderDirection: asc
    first: $first
  ) {
    id
    healthFactor
    totalCollateralUSD
    totalDebtUSD
    collateralReserve { underlyingAsset symbol decimals }
    debtReserve { underlyingAsset symbol decimals }
  }
}`

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlError struct {
	Message string `json:"message"`
}

type gqlReserve struct {
	UnderlyingAsset string `json:"underlyingAsset"`
	Symbol          string `json:"symbol"`
	Decimals        uint8  `json:"decimals"`
}

type gqlUser struct {
	ID                 string      `json:"id"`
	HealthFactor       string      `json:"healthFactor"`
	TotalCollateralUSD string      `json:"totalCollateralUSD"`
	TotalDebtUSD       string      `json:"totalDebtUSD"`
	CollateralReserve  *gqlReserve `json:"collateralReserve"`
	DebtReserve        *gqlReserve `json:"debtReserve"`
}

type gqlResponse struct {
	Data struct {
		Users []gqlUser `json:"users"`
	} `json:"data"`
	Errors []gqlError `json:"errors"`
}

// Source queries one protocol's subgraph for accounts below the monitoring
// threshold.
type Source struct {
	protocol  string
	endpoint  string
	client    *httpclient.Client
	registry  *asset.Registry
	chainID   uint64
	threshold decimal.Decimal
	first     int
	logger    logger.LoggerInterface
	tracer    trace.Tracer
}

// NewSource creates a subgraph-backed position source.
func NewSource(protocol, endpoint string, chainID uint64, threshold decimal.Decimal, first int, reg *asset.Registry, log logger.LoggerInterface) (*Source, error) {
	if endpoint == "" {
		return nil, apperror.New(apperror.CodeConfigurationError,
			apperror.WithMessage("subgraph endpoint not configured"),
			apperror.WithContext("protocol", protocol))
	}

	client, err := httpclient.New(
		httpclient.WithProviderName(protocol+"-subgraph"),
		httpclient.WithRequestTimeout(10*time.Second),
	)
	if err != nil {
		return nil, err
	}

	if first <= 0 {
		first = 100
	}

	return &Source{
		protocol:  protocol,
		endpoint:  endpoint,
		client:    client,
		registry:  reg,
		chainID:   chainID,
		threshold: threshold,
		first:     first,
		logger:    log,
		tracer:    otel.Tracer(tracerName),
	}, nil
}

func (s *Source) Name() string { return domain.SourceIndexed }

// Positions runs the at-risk query and maps rows to positions. Rows that
// fail to parse are dropped individually; the index answering at all is
// the part that matters.
func (s *Source) Positions(ctx context.Context) ([]domain.Position, error) {
	ctx, span := s.tracer.Start(ctx, "lending.indexed.positions",
		trace.WithAttributes(attribute.String("protocol", s.protocol)),
	)
	defer span.End()

	req := gqlRequest{
		Query: atRiskQuery,
		Variables: map[string]any{
			"threshold": s.threshold.String(),
			"first":     s.first,
		},
	}

	var resp gqlResponse
	if err := s.client.PostJSON(ctx, s.endpoint, req, &resp); err != nil {
		span.RecordError(err)
		return nil, apperror.Wrap(err, apperror.CodeRPCError, "subgraph query failed")
	}
	if len(resp.Errors) > 0 {
		return nil, apperror.New(apperror.CodeRPCError,
			apperror.WithMessage("subgraph rejected query"),
			apperror.WithContext("error", resp.Errors[0].Message))
	}

	now := time.Now()
	out := make([]domain.Position, 0, len(resp.Data.Users))
	for _, u := range resp.Data.Users {
		p, ok := s.toPosition(u, now)
		if !ok {
			s.logger.Debug(ctx, "unparseable subgraph row dropped",
				"protocol", s.protocol, "id", u.ID)
			continue
		}
		out = append(out, p)
	}

	span.SetAttributes(attribute.Int("positions", len(out)))
	return out, nil
}

func (s *Source) toPosition(u gqlUser, now time.Time) (domain.Position, bool) {
	if !strings.HasPrefix(u.ID, "0x") || len(u.ID) < 42 {
		return domain.Position{}, false
	}
	hf, err := decimal.NewFromString(u.HealthFactor)
	if err != nil || !hf.IsPositive() {
		return domain.Position{}, false
	}

	collateralUSD, err := decimal.NewFromString(u.TotalCollateralUSD)
	if err != nil {
		collateralUSD = decimal.Zero
	}
	debtUSD, err := decimal.NewFromString(u.TotalDebtUSD)
	if err != nil {
		debtUSD = decimal.Zero
	}

	return domain.Position{
		Protocol:        s.protocol,
		Owner:           common.HexToAddress(u.ID[:42]),
		CollateralAsset: s.resolve(u.CollateralReserve),
		DebtAsset:       s.resolve(u.DebtReserve),
		HealthFactor:    hf,
		CollateralUSD:   collateralUSD,
		DebtUSD:         debtUSD,
		Source:          domain.SourceIndexed,
		ObservedAt:      now,
	}, true
}

// resolve maps a subgraph reserve to a registry asset, nil when unknown.
// A nil leg keeps the position discoverable; planning rejects it later.
func (s *Source) resolve(r *gqlReserve) *asset.Asset {
	if r == nil {
		return nil
	}
	if r.UnderlyingAsset != "" {
		if a, ok := s.registry.GetToken(s.chainID, common.HexToAddress(r.UnderlyingAsset)); ok {
			return a
		}
	}
	if a, ok := s.registry.GetBySymbolAndChain(r.Symbol, s.chainID); ok {
		return a
	}
	return nil
}
