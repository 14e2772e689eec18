package config

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"ward-backend/store"
	"ward-backend/store/gormstore"
	"ward-backend/store/memstore"
)

func lockWaitSeconds(d time.Duration) string {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		s = 1
	}
	return strconv.Itoa(s)
}

// withMySQLDefaults fills the connection parameters the store relies on.
// innodb_lock_wait_timeout is passed through as a session variable.
func withMySQLDefaults(q url.Values, lockTimeout time.Duration) url.Values {
	if q.Get("charset") == "" {
		q.Set("charset", "utf8mb4")
	}
	if q.Get("parseTime") == "" {
		q.Set("parseTime", "True")
	}
	if q.Get("loc") == "" {
		q.Set("loc", "Local")
	}
	if q.Get("innodb_lock_wait_timeout") == "" {
		q.Set("innodb_lock_wait_timeout", lockWaitSeconds(lockTimeout))
	}
	return q
}

func mysqlDSNFromURL(raw string, lockTimeout time.Duration) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}

	user := u.User.Username()
	pass, _ := u.User.Password()
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "3306"
	}

	dbName := strings.TrimPrefix(u.Path, "/")
	if dbName == "" {
		return "", fmt.Errorf("mysql url missing database name")
	}

	q := withMySQLDefaults(u.Query(), lockTimeout)
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?%s", user, pass, host, port, dbName, q.Encode()), nil
}

func (c *Config) mysqlDSN() (string, error) {
	raw := c.DatabaseURL
	if strings.HasPrefix(raw, "mysql://") {
		return mysqlDSNFromURL(raw, c.LockTimeout)
	}
	if raw != "" {
		return raw, nil
	}
	port := c.DBPort
	if port == "" {
		port = "3306"
	}
	q := withMySQLDefaults(url.Values{}, c.LockTimeout)
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?%s", c.DBUser, c.DBPass, c.DBHost, port, c.DBName, q.Encode()), nil
}

func (c *Config) postgresDSN() string {
	raw := c.DatabaseURL
	if raw != "" {
		return raw
	}
	port := c.DBPort
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, port, c.DBUser, c.DBPass, c.DBName, c.DBSSLMode)
}

// OpenStore connects the configured driver and migrates when enabled.
func OpenStore(cfg *Config, log *zap.Logger) (store.Store, error) {
	if cfg.DBDriver == DriverMemory {
		log.Warn("using in-memory store; data is lost on restart")
		return memstore.New(memstore.WithLockTimeout(cfg.LockTimeout)), nil
	}

	var (
		dialector gorm.Dialector
		dialect   string
	)
	switch cfg.DBDriver {
	case DriverPostgres:
		dialector = postgres.Open(cfg.postgresDSN())
		dialect = gormstore.DialectPostgres
	default:
		dsn, err := cfg.mysqlDSN()
		if err != nil {
			return nil, err
		}
		dialector = mysql.Open(dsn)
		dialect = gormstore.DialectMySQL
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: NewGormLogger(log, time.Second)})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.DBDriver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	st := gormstore.New(db, gormstore.Options{Dialect: dialect, LockTimeout: cfg.LockTimeout})
	if cfg.DBAutoMigrate {
		if err := st.Migrate(); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		log.Info("database migrated", zap.String("driver", cfg.DBDriver))
	}
	return st, nil
}
