package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jm31-art/ultraflashbot/business/chain/domain"
	"github.com/jm31-art/ultraflashbot/internal/apperror"
	"github.com/jm31-art/ultraflashbot/internal/logger"
)

const (
	tracerName = "chain"
	meterName  = "chain"
)

// ManagerConfig holds connectivity settings.
type ManagerConfig struct {
	ReadURL           string
	ExecutionURL      string
	BackupURLs        []string
	ChainID           uint64
	AllowedChainIDs   []uint64
	ExecutionRequired bool
	DialTimeout       time.Duration
}

// managerMetrics holds OTEL metric instruments.
type managerMetrics struct {
	connections  metric.Int64UpDownCounter
	initFailures metric.Int64Counter
}

// Manager owns the node connection set. The set is frozen after a
// successful Initialize: nothing can add, drop or swap a connection
// afterwards, and a second Initialize fails. Accessors hand out clients
// but never raw URLs; every endpoint that reaches a log or an error is
// masked first.
type Manager struct {
	config ManagerConfig
	logger logger.LoggerInterface
	dialer Dialer

	mu          sync.Mutex
	initialized bool
	read        NodeClient
	execution   NodeClient
	backups     []NodeClient
	infos       []domain.ConnectionInfo

	tracer  trace.Tracer
	metrics *managerMetrics
}

// NewManager creates an uninitialized connectivity manager.
func NewManager(cfg ManagerConfig, dialer Dialer, log logger.LoggerInterface) (*Manager, error) {
	m := &Manager{
		config: cfg,
		logger: log,
		dialer: dialer,
		tracer: otel.Tracer(tracerName),
	}

	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	return m, nil
}

func (m *Manager) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	m.metrics = &managerMetrics{}

	m.metrics.connections, err = meter.Int64UpDownCounter(
		"chain_connections",
		metric.WithDescription("Established node connections by role"),
	)
	if err != nil {
		return err
	}

	m.metrics.initFailures, err = meter.Int64Counter(
		"chain_init_failures_total",
		metric.WithDescription("Connectivity initialization failures"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Initialize dials and verifies every configured endpoint. The read
// connection is mandatory; the execution connection is mandatory only when
// execution is enabled; backups are best effort. Each endpoint must report
// the configured chain id. Calling Initialize on an initialized manager
// fails.
func (m *Manager) Initialize(ctx context.Context) error {
	ctx, span := m.tracer.Start(ctx, "chain.initialize",
		trace.WithAttributes(attribute.Int64("chain_id", int64(m.config.ChainID))),
	)
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		err := apperror.New(apperror.CodeAlreadyInitialized,
			apperror.WithContext("chain_id", m.config.ChainID))
		span.RecordError(err)
		return err
	}

	if len(m.config.AllowedChainIDs) > 0 && !allowedChain(m.config.AllowedChainIDs, m.config.ChainID) {
		m.metrics.initFailures.Add(ctx, 1)
		return apperror.New(apperror.CodeConfigurationError,
			apperror.WithMessage(fmt.Sprintf("chain id %d is not in the allow-list", m.config.ChainID)))
	}

	// Read connection: mandatory.
	read, err := m.connect(ctx, domain.RoleRead, m.config.ReadURL)
	if err != nil {
		m.metrics.initFailures.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "read connection failed")
		return err
	}
	m.read = read

	// Execution connection: private endpoints only.
	if m.config.ExecutionURL != "" {
		if verr := domain.ValidateExecutionEndpoint(m.config.ExecutionURL); verr != nil {
			m.teardownLocked()
			m.metrics.initFailures.Add(ctx, 1)
			code := apperror.CodeConfigurationError
			if errors.Is(verr, domain.ErrEndpointPublic) || errors.Is(verr, domain.ErrEndpointInsecure) {
				code = apperror.CodeExecutionEndpointOpen
			}
			err := apperror.New(code,
				apperror.WithCause(verr),
				apperror.WithContext("endpoint", logger.MaskURL(m.config.ExecutionURL)))
			span.RecordError(err)
			return err
		}

		execution, cerr := m.connect(ctx, domain.RoleExecution, m.config.ExecutionURL)
		if cerr != nil {
			m.teardownLocked()
			m.metrics.initFailures.Add(ctx, 1)
			span.RecordError(cerr)
			return cerr
		}
		m.execution = execution
	} else if m.config.ExecutionRequired {
		m.teardownLocked()
		m.metrics.initFailures.Add(ctx, 1)
		return apperror.New(apperror.CodeConfigurationError,
			apperror.WithMessage("execution endpoint required when execution is enabled"))
	}

	// Backups: best effort, a dead backup is a warning not a failure.
	for _, u := range m.config.BackupURLs {
		backup, berr := m.connect(ctx, domain.RoleBackup, u)
		if berr != nil {
			m.logger.Warn(ctx, "backup connection failed",
				"endpoint", logger.MaskURL(u), "error", berr.Error())
			continue
		}
		m.backups = append(m.backups, backup)
	}

	m.initialized = true
	span.SetStatus(codes.Ok, "initialized")
	m.logger.Info(ctx, "chain connectivity initialized",
		"chain_id", m.config.ChainID,
		"read", logger.MaskURL(m.config.ReadURL),
		"execution_enabled", m.execution != nil,
		"backups", len(m.backups),
	)
	return nil
}

// connect dials one endpoint and verifies its chain id.
func (m *Manager) connect(ctx context.Context, role domain.Role, rawURL string) (NodeClient, error) {
	masked := logger.MaskURL(rawURL)

	dctx := ctx
	if m.config.DialTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, m.config.DialTimeout)
		defer cancel()
	}

	client, err := m.dialer.Dial(dctx, rawURL)
	if err != nil {
		return nil, apperror.New(apperror.CodeConnectivityFailed,
			apperror.WithCause(err),
			apperror.WithContext("role", string(role)),
			apperror.WithContext("endpoint", masked))
	}

	id, err := client.ChainID(dctx)
	if err != nil {
		client.Close()
		return nil, apperror.New(apperror.CodeConnectivityFailed,
			apperror.WithCause(err),
			apperror.WithContext("role", string(role)),
			apperror.WithContext("endpoint", masked))
	}

	if id.Uint64() != m.config.ChainID {
		client.Close()
		return nil, apperror.New(apperror.CodeChainIDMismatch,
			apperror.WithContext("role", string(role)),
			apperror.WithContext("endpoint", masked),
			apperror.WithContext("want", m.config.ChainID),
			apperror.WithContext("got", id.Uint64()))
	}

	m.infos = append(m.infos, domain.ConnectionInfo{
		Role:     role,
		Endpoint: masked,
		ChainID:  id.Uint64(),
		State:    domain.StateConnected,
	})
	m.metrics.connections.Add(ctx, 1,
		metric.WithAttributes(attribute.String("role", string(role))))

	return client, nil
}

// teardownLocked closes whatever partial state a failed Initialize built.
// Caller holds m.mu.
func (m *Manager) teardownLocked() {
	if m.read != nil {
		m.read.Close()
		m.read = nil
	}
	if m.execution != nil {
		m.execution.Close()
		m.execution = nil
	}
	for _, b := range m.backups {
		b.Close()
	}
	m.backups = nil
	m.infos = nil
}

// ReadClient returns the primary read connection.
func (m *Manager) ReadClient() (NodeClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return nil, apperror.New(apperror.CodeInvalidState,
			apperror.WithMessage("connectivity manager not initialized"))
	}
	return m.read, nil
}

// ExecutionClient returns the execution connection. Errors in scan-only
// mode, where no execution endpoint exists.
func (m *Manager) ExecutionClient() (NodeClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return nil, apperror.New(apperror.CodeInvalidState,
			apperror.WithMessage("connectivity manager not initialized"))
	}
	if m.execution == nil {
		return nil, apperror.New(apperror.CodeConfigurationError,
			apperror.WithMessage("no execution connection in scan-only mode"))
	}
	return m.execution, nil
}

// WithRead runs fn against the primary read connection, falling through
// the backups in order until one succeeds. The connection set itself
// never changes.
func (m *Manager) WithRead(ctx context.Context, op string, fn func(NodeClient) error) error {
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return apperror.New(apperror.CodeInvalidState,
			apperror.WithMessage("connectivity manager not initialized"))
	}
	clients := make([]NodeClient, 0, 1+len(m.backups))
	clients = append(clients, m.read)
	clients = append(clients, m.backups...)
	m.mu.Unlock()

	var lastErr error
	for i, client := range clients {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(client); err != nil {
			lastErr = err
			if i < len(clients)-1 {
				m.logger.Warn(ctx, "read operation failed, trying backup",
					"op", op, "attempt", i+1, "error", err.Error())
			}
			continue
		}
		return nil
	}

	return apperror.New(apperror.CodeConnectivityFailed,
		apperror.WithCause(lastErr),
		apperror.WithContext("op", op),
		apperror.WithContext("endpoints_tried", len(clients)))
}

// Status returns a snapshot of every established connection.
func (m *Manager) Status() []domain.ConnectionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ConnectionInfo, len(m.infos))
	copy(out, m.infos)
	return out
}

// Initialized reports whether Initialize has completed successfully.
func (m *Manager) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

// Close closes every connection. The manager cannot be reused afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked()
	return nil
}

func allowedChain(allowed []uint64, id uint64) bool {
	for _, a := range allowed {
		if a == id {
			return true
		}
	}
	return false
}
