package core

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	retry "github.com/avast/retry-go"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPingTimeout  = 10 * time.Second
	connectAttempts     = 5
	connectRetryBackoff = 200 * time.Millisecond
)

// Conn is a named handle to a backend database.
type Conn struct {
	name   string
	client *mongo.Client
	db     *mongo.Database
}

// Name returns the connection name.
func (c *Conn) Name() string { return c.name }

// DB returns the underlying database handle.
func (c *Conn) DB() *mongo.Database { return c.db }

// Client returns the underlying client.
func (c *Conn) Client() *mongo.Client { return c.client }

// ConnManager owns the named connections to the backing store. Connections
// are opened once at startup and closed at shutdown; the map is read-only
// in between.
type ConnManager struct {
	conf *Config
	log  *zap.SugaredLogger

	mu    sync.Mutex
	conns map[string]*Conn
}

func newConnManager(conf *Config, log *zap.SugaredLogger) *ConnManager {
	return &ConnManager{
		conf:  conf,
		log:   log,
		conns: make(map[string]*Conn),
	}
}

// Open establishes every configured connection. The connections are
// independent so they open concurrently; any failure aborts startup with a
// ConnectionError.
func (m *ConnManager) Open(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, cc := range m.conf.Connections {
		cc := cc
		g.Go(func() error {
			conn, err := m.openConn(ctx, cc)
			if err != nil {
				return err
			}
			m.mu.Lock()
			m.conns[cc.Name] = conn
			m.mu.Unlock()
			m.log.Infof("connected to %q", cc.Name)
			return nil
		})
	}
	return g.Wait()
}

func (m *ConnManager) openConn(ctx context.Context, cc ConnConfig) (*Conn, error) {
	uri := cc.URL
	if len(cc.Options) > 0 {
		uri = appendURIOptions(uri, cc.Options)
	}

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, &ConnectionError{Name: cc.Name, Err: err}
	}

	timeout := cc.PingTimeout
	if timeout == 0 {
		timeout = defaultPingTimeout
	}

	err = retry.Do(
		func() error {
			pctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return client.Ping(pctx, readpref.Primary())
		},
		retry.Attempts(connectAttempts),
		retry.Delay(connectRetryBackoff),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		client.Disconnect(ctx) //nolint:errcheck
		return nil, &ConnectionError{Name: cc.Name, Err: err}
	}

	return &Conn{name: cc.Name, client: client, db: client.Database(cc.Database)}, nil
}

// appendURIOptions merges extra driver options into the connection URI.
func appendURIOptions(uri string, opts map[string]string) string {
	sep := "?"
	if strings.Contains(uri, "?") {
		sep = "&"
	}
	params := url.Values{}
	for k, v := range opts {
		params.Set(k, v)
	}
	return uri + sep + params.Encode()
}

// Get returns the named connection; an empty name resolves the default.
func (m *ConnManager) Get(name string) (*Conn, error) {
	if name == "" {
		name = m.conf.DefaultConnection
	}
	m.mu.Lock()
	conn, ok := m.conns[name]
	m.mu.Unlock()
	if !ok {
		return nil, &UnknownConnectionError{Name: name}
	}
	return conn, nil
}

// Ping probes the liveness of the named connection.
func (m *ConnManager) Ping(ctx context.Context, name string) error {
	conn, err := m.Get(name)
	if err != nil {
		return err
	}
	return conn.client.Ping(ctx, readpref.Primary())
}

// TxnFunc runs statements against a database handle. When transactions are
// enabled the handle is bound to a session-scoped transaction.
type TxnFunc func(ctx context.Context, db *mongo.Database) error

// Transaction runs fn against the named connection. With transactional mode
// disabled by configuration, fn runs directly against the database handle
// with no isolation guarantee. With it enabled, fn runs inside a session
// transaction that commits on success and aborts on error; the error is
// returned after the abort.
func (m *ConnManager) Transaction(ctx context.Context, fn TxnFunc, name string) error {
	conn, err := m.Get(name)
	if err != nil {
		return err
	}

	if !m.conf.EnableTransactions {
		return fn(ctx, conn.db)
	}

	sess, err := conn.client.StartSession()
	if err != nil {
		return err
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc context.Context) (any, error) {
		return nil, fn(sc, conn.db)
	})
	return err
}

// CloseAll closes every open connection. Idempotent.
func (m *ConnManager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[string]*Conn)
	m.mu.Unlock()

	var err error
	for _, conn := range conns {
		if conn.client == nil {
			continue
		}
		err = multierr.Append(err, conn.client.Disconnect(ctx))
	}
	return err
}
