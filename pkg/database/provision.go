package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"vivarium/pkg/logging"
)

// AppAccount names the application database and the role that owns it.
type AppAccount struct {
	Database string
	User     string
	Password string
}

// Provisioner creates the application database and role using a
// superuser connection. Every statement runs in autocommit mode because
// CREATE/DROP DATABASE cannot run inside a transaction.
type Provisioner struct {
	super     *PostgresDB
	superUser string
	logger    logging.Logger
}

// NewProvisioner builds a provisioner over a superuser pool.
func NewProvisioner(super *PostgresDB, logger logging.Logger) *Provisioner {
	return &Provisioner{
		super:     super,
		superUser: super.Config().User,
		logger:    logger,
	}
}

func (p *Provisioner) exists(ctx context.Context, s *Session, query, name string) (bool, error) {
	_, err := s.ExecuteQuery(ctx, query, []interface{}{name}, FetchOne)
	if errors.Is(err, ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p *Provisioner) databaseExists(ctx context.Context, s *Session, name string) (bool, error) {
	return p.exists(ctx, s, "SELECT 1 FROM pg_database WHERE datname = $1", name)
}

func (p *Provisioner) roleExists(ctx context.Context, s *Session, name string) (bool, error) {
	return p.exists(ctx, s, "SELECT 1 FROM pg_roles WHERE rolname = $1", name)
}

// Ensure creates the database and role when they are missing and grants
// the role its privileges. Existing objects are left untouched.
func (p *Provisioner) Ensure(ctx context.Context, app AppAccount) error {
	s := p.super.NewSession()
	defer s.Close(ctx)

	dbExists, err := p.databaseExists(ctx, s, app.Database)
	if err != nil {
		return fmt.Errorf("failed to check database %s: %w", app.Database, err)
	}
	if !dbExists {
		if err := s.ExecuteCommand(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(app.Database)); err != nil {
			return fmt.Errorf("failed to create database %s: %w", app.Database, err)
		}
		p.logger.Info(ctx, "[DB_SETUP] Database created", logging.Fields{"database": app.Database})
	} else {
		p.logger.Info(ctx, "[DB_SETUP] Database already exists", logging.Fields{"database": app.Database})
	}

	roleExists, err := p.roleExists(ctx, s, app.User)
	if err != nil {
		return fmt.Errorf("failed to check role %s: %w", app.User, err)
	}
	if !roleExists {
		if err := p.createUser(ctx, s, app); err != nil {
			return err
		}
	} else {
		p.logger.Info(ctx, "[DB_SETUP] Role already exists", logging.Fields{"user": app.User})
	}

	grant := fmt.Sprintf("GRANT ALL PRIVILEGES ON DATABASE %s TO %s",
		pq.QuoteIdentifier(app.Database), pq.QuoteIdentifier(app.User))
	if err := s.ExecuteCommand(ctx, grant); err != nil {
		return fmt.Errorf("failed to grant privileges: %w", err)
	}

	p.logger.Info(ctx, "[DB_SETUP] Privileges granted", logging.Fields{
		"database": app.Database,
		"user":     app.User,
	})
	return nil
}

// Reset drops the application database and role, then recreates both with
// the role as owner. This destroys all data in the database.
func (p *Provisioner) Reset(ctx context.Context, app AppAccount) error {
	s := p.super.NewSession()
	defer s.Close(ctx)

	dbIdent := pq.QuoteIdentifier(app.Database)
	userIdent := pq.QuoteIdentifier(app.User)

	dbExists, err := p.databaseExists(ctx, s, app.Database)
	if err != nil {
		return fmt.Errorf("failed to check database %s: %w", app.Database, err)
	}
	if dbExists {
		p.logger.Warn(ctx, "[DB_SETUP_DROP] Dropping application database", logging.Fields{"database": app.Database})

		terminate := `SELECT pg_terminate_backend(pg_stat_activity.pid)
			FROM pg_stat_activity
			WHERE pg_stat_activity.datname = $1 AND pid <> pg_backend_pid()`
		if _, err := s.ExecuteQuery(ctx, terminate, []interface{}{app.Database}, FetchAll); err != nil {
			return fmt.Errorf("failed to terminate connections to %s: %w", app.Database, err)
		}
		if err := s.ExecuteCommand(ctx, "DROP DATABASE "+dbIdent+" WITH (FORCE)"); err != nil {
			return fmt.Errorf("failed to drop database %s: %w", app.Database, err)
		}
	}

	roleExists, err := p.roleExists(ctx, s, app.User)
	if err != nil {
		return fmt.Errorf("failed to check role %s: %w", app.User, err)
	}
	if roleExists {
		p.logger.Warn(ctx, "[DB_SETUP_DROP] Dropping application role", logging.Fields{"user": app.User})

		reassign := fmt.Sprintf("REASSIGN OWNED BY %s TO %s", userIdent, pq.QuoteIdentifier(p.superUser))
		if err := s.ExecuteCommand(ctx, reassign); err != nil {
			p.logger.Warn(ctx, "[DB_SETUP_DROP] Could not reassign owned objects", logging.Fields{"error": err.Error()})
		}
		if err := s.ExecuteCommand(ctx, "DROP OWNED BY "+userIdent); err != nil {
			p.logger.Warn(ctx, "[DB_SETUP_DROP] Could not drop owned objects", logging.Fields{"error": err.Error()})
		}
		if err := s.ExecuteCommand(ctx, "DROP USER "+userIdent); err != nil {
			return fmt.Errorf("failed to drop user %s: %w", app.User, err)
		}
	}

	if err := p.createUser(ctx, s, app); err != nil {
		return err
	}

	if err := s.ExecuteCommand(ctx, fmt.Sprintf("CREATE DATABASE %s WITH OWNER = %s", dbIdent, userIdent)); err != nil {
		return fmt.Errorf("failed to create database %s: %w", app.Database, err)
	}

	grants := []string{
		fmt.Sprintf("GRANT CONNECT ON DATABASE %s TO %s", dbIdent, userIdent),
		fmt.Sprintf("ALTER DEFAULT PRIVILEGES FOR USER %s IN SCHEMA public GRANT ALL ON TABLES TO %s", userIdent, userIdent),
		fmt.Sprintf("ALTER DEFAULT PRIVILEGES FOR USER %s IN SCHEMA public GRANT ALL ON SEQUENCES TO %s", userIdent, userIdent),
	}
	for _, g := range grants {
		if err := s.ExecuteCommand(ctx, g); err != nil {
			return fmt.Errorf("failed to grant privileges: %w", err)
		}
	}

	p.logger.Info(ctx, "[DB_SETUP] Database and role recreated", logging.Fields{
		"database": app.Database,
		"user":     app.User,
	})
	return nil
}

// Role passwords cannot be bound as parameters in utility statements, so
// the literal is quoted.
func (p *Provisioner) createUser(ctx context.Context, s *Session, app AppAccount) error {
	stmt := fmt.Sprintf("CREATE USER %s WITH ENCRYPTED PASSWORD %s",
		pq.QuoteIdentifier(app.User), pq.QuoteLiteral(app.Password))
	if err := s.ExecuteCommand(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create user %s: %w", app.User, err)
	}
	p.logger.Info(ctx, "[DB_SETUP] Role created", logging.Fields{"user": app.User})
	return nil
}
