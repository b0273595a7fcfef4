package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"retsync/models"
)

// watermarkName is the settings row holding the last-synchronized timestamp.
const watermarkName = "rets_last_updated"

// watermarkEpoch is the first-run default: everything after this date is
// imported on the initial cycle.
var watermarkEpoch = time.Date(2013, 8, 6, 0, 0, 1, 0, time.UTC)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// =============================================================================
// Watermark
// =============================================================================

// ReadWatermark returns the last-synchronized timestamp, creating the row
// with the epoch default on first read.
func (s *PostgresStore) ReadWatermark(ctx context.Context) (time.Time, error) {
	var value time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM settings WHERE name = $1`, watermarkName,
	).Scan(&value)
	if err == pgx.ErrNoRows {
		_, err = s.pool.Exec(ctx,
			`INSERT INTO settings (name, value) VALUES ($1, $2)
			 ON CONFLICT (name) DO NOTHING`, watermarkName, watermarkEpoch)
		if err != nil {
			return time.Time{}, fmt.Errorf("create watermark: %w", err)
		}
		return watermarkEpoch, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read watermark: %w", err)
	}
	return value, nil
}

func (s *PostgresStore) WriteWatermark(ctx context.Context, t time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO settings (name, value) VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value`, watermarkName, t)
	if err != nil {
		return fmt.Errorf("write watermark: %w", err)
	}
	return nil
}

// =============================================================================
// Properties
// =============================================================================

const propertyColumns = `id, mls_acct, street_num, street_name, city, state, zip,
	status, price, beds, baths, sqft, description, la_code, lo_code,
	date_created, date_modified, photo_date_modified, latitude, longitude,
	created_at, updated_at`

func scanProperty(row pgx.Row) (*models.Property, error) {
	var p models.Property
	err := row.Scan(
		&p.ID, &p.MLSAcct, &p.StreetNum, &p.StreetName, &p.City, &p.State, &p.Zip,
		&p.Status, &p.Price, &p.Beds, &p.Baths, &p.SqFt, &p.Description, &p.LaCode, &p.LoCode,
		&p.DateCreated, &p.DateModified, &p.PhotoDateModified, &p.Latitude, &p.Longitude,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) GetPropertyByMLS(ctx context.Context, class models.PropertyClass, mlsAcct string) (*models.Property, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE mls_acct = $1`, propertyColumns, class.Table())
	return scanProperty(s.pool.QueryRow(ctx, query, mlsAcct))
}

// SaveProperty upserts a full overwrite keyed on the natural-key identity.
// Re-syncing the same record always lands on the same row.
func (s *PostgresStore) SaveProperty(ctx context.Context, class models.PropertyClass, p *models.Property) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		ON CONFLICT (id) DO UPDATE SET
			mls_acct = EXCLUDED.mls_acct,
			street_num = EXCLUDED.street_num,
			street_name = EXCLUDED.street_name,
			city = EXCLUDED.city,
			state = EXCLUDED.state,
			zip = EXCLUDED.zip,
			status = EXCLUDED.status,
			price = EXCLUDED.price,
			beds = EXCLUDED.beds,
			baths = EXCLUDED.baths,
			sqft = EXCLUDED.sqft,
			description = EXCLUDED.description,
			la_code = EXCLUDED.la_code,
			lo_code = EXCLUDED.lo_code,
			date_created = EXCLUDED.date_created,
			date_modified = EXCLUDED.date_modified,
			photo_date_modified = EXCLUDED.photo_date_modified,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			updated_at = NOW()`, class.Table(), propertyColumns)

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.MLSAcct, p.StreetNum, p.StreetName, p.City, p.State, p.Zip,
		p.Status, p.Price, p.Beds, p.Baths, p.SqFt, p.Description, p.LaCode, p.LoCode,
		p.DateCreated, p.DateModified, p.PhotoDateModified, p.Latitude, p.Longitude,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save %s property %s: %w", class.Label(), p.MLSAcct, err)
	}
	return nil
}

func (s *PostgresStore) propertyList(ctx context.Context, query string, args ...any) ([]models.Property, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var props []models.Property
	for rows.Next() {
		var p models.Property
		if err := rows.Scan(
			&p.ID, &p.MLSAcct, &p.StreetNum, &p.StreetName, &p.City, &p.State, &p.Zip,
			&p.Status, &p.Price, &p.Beds, &p.Baths, &p.SqFt, &p.Description, &p.LaCode, &p.LoCode,
			&p.DateCreated, &p.DateModified, &p.PhotoDateModified, &p.Latitude, &p.Longitude,
			&p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		props = append(props, p)
	}
	return props, rows.Err()
}

// PropertiesWithPhotosAfter returns records whose photo set changed after t,
// ordered by natural key for stable processing.
func (s *PostgresStore) PropertiesWithPhotosAfter(ctx context.Context, class models.PropertyClass, t time.Time) ([]models.Property, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE photo_date_modified > $1
		ORDER BY mls_acct`, propertyColumns, class.Table())
	return s.propertyList(ctx, query, t)
}

func (s *PostgresStore) PropertiesMissingCoords(ctx context.Context, class models.PropertyClass) ([]models.Property, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE latitude IS NULL
		ORDER BY mls_acct`, propertyColumns, class.Table())
	return s.propertyList(ctx, query)
}

func (s *PostgresStore) UpdatePropertyCoords(ctx context.Context, class models.PropertyClass, id int64, lat, lng float64) error {
	query := fmt.Sprintf(
		`UPDATE %s SET latitude = $2, longitude = $3, updated_at = NOW() WHERE id = $1`,
		class.Table())
	_, err := s.pool.Exec(ctx, query, id, lat, lng)
	return err
}

// =============================================================================
// Agents
// =============================================================================

const agentColumns = `id, la_code, first_name, last_name, member_email,
	office_phone, home_phone, cell_phone, fax_phone,
	mail_addr1, mail_addr2, mail_city, mail_state, mail_zip,
	lo_code, member_status, nrds_id,
	date_created, date_modified, photo_count, photo_date_modified,
	created_at, updated_at`

func (s *PostgresStore) GetAgentByLaCode(ctx context.Context, laCode string) (*models.Agent, error) {
	query := fmt.Sprintf(`SELECT %s FROM rets_agents WHERE la_code = $1`, agentColumns)

	var a models.Agent
	err := s.pool.QueryRow(ctx, query, laCode).Scan(
		&a.ID, &a.LaCode, &a.FirstName, &a.LastName, &a.MemberEmail,
		&a.OfficePhone, &a.HomePhone, &a.CellPhone, &a.FaxPhone,
		&a.MailAddr1, &a.MailAddr2, &a.MailCity, &a.MailState, &a.MailZip,
		&a.LoCode, &a.MemberStatus, &a.NrdsID,
		&a.DateCreated, &a.DateModified, &a.PhotoCount, &a.PhotoDateModified,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PostgresStore) SaveAgent(ctx context.Context, a *models.Agent) error {
	query := fmt.Sprintf(`
		INSERT INTO rets_agents (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
		ON CONFLICT (la_code) DO UPDATE SET
			id = EXCLUDED.id,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			member_email = EXCLUDED.member_email,
			office_phone = EXCLUDED.office_phone,
			home_phone = EXCLUDED.home_phone,
			cell_phone = EXCLUDED.cell_phone,
			fax_phone = EXCLUDED.fax_phone,
			mail_addr1 = EXCLUDED.mail_addr1,
			mail_addr2 = EXCLUDED.mail_addr2,
			mail_city = EXCLUDED.mail_city,
			mail_state = EXCLUDED.mail_state,
			mail_zip = EXCLUDED.mail_zip,
			lo_code = EXCLUDED.lo_code,
			member_status = EXCLUDED.member_status,
			nrds_id = EXCLUDED.nrds_id,
			date_created = EXCLUDED.date_created,
			date_modified = EXCLUDED.date_modified,
			photo_count = EXCLUDED.photo_count,
			photo_date_modified = EXCLUDED.photo_date_modified,
			updated_at = NOW()`, agentColumns)

	_, err := s.pool.Exec(ctx, query,
		a.ID, a.LaCode, a.FirstName, a.LastName, a.MemberEmail,
		a.OfficePhone, a.HomePhone, a.CellPhone, a.FaxPhone,
		a.MailAddr1, a.MailAddr2, a.MailCity, a.MailState, a.MailZip,
		a.LoCode, a.MemberStatus, a.NrdsID,
		a.DateCreated, a.DateModified, a.PhotoCount, a.PhotoDateModified,
		a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save agent %s: %w", a.LaCode, err)
	}
	return nil
}

// AgentsWithPhotosAfter returns agents whose photo changed after t,
// optionally restricted to one office, ordered by name.
func (s *PostgresStore) AgentsWithPhotosAfter(ctx context.Context, t time.Time, officeCode string) ([]models.Agent, error) {
	query := fmt.Sprintf(`SELECT %s FROM rets_agents WHERE photo_date_modified > $1`, agentColumns)
	args := []any{t}
	if officeCode != "" {
		query += ` AND lo_code = $2`
		args = append(args, officeCode)
	}
	query += ` ORDER BY last_name, first_name`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []models.Agent
	for rows.Next() {
		var a models.Agent
		if err := rows.Scan(
			&a.ID, &a.LaCode, &a.FirstName, &a.LastName, &a.MemberEmail,
			&a.OfficePhone, &a.HomePhone, &a.CellPhone, &a.FaxPhone,
			&a.MailAddr1, &a.MailAddr2, &a.MailCity, &a.MailState, &a.MailZip,
			&a.LoCode, &a.MemberStatus, &a.NrdsID,
			&a.DateCreated, &a.DateModified, &a.PhotoCount, &a.PhotoDateModified,
			&a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// =============================================================================
// Image records
// =============================================================================

// Image tables are one per owner kind (residential_images, commercial_images,
// land_images, agent_images); the table name always comes from a class enum,
// never from input.

func (s *PostgresStore) ImagesForOwner(ctx context.Context, table string, ownerID int64) ([]models.ImageRecord, error) {
	query := fmt.Sprintf(`
		SELECT id, owner_id, sort_order, s3_key, created_at
		FROM %s WHERE owner_id = $1 ORDER BY sort_order`, table)

	rows, err := s.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var images []models.ImageRecord
	for rows.Next() {
		var img models.ImageRecord
		if err := rows.Scan(&img.ID, &img.OwnerID, &img.SortOrder, &img.S3Key, &img.CreatedAt); err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

func (s *PostgresStore) DeleteImagesForOwner(ctx context.Context, table string, ownerID int64) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE owner_id = $1`, table)
	_, err := s.pool.Exec(ctx, query, ownerID)
	return err
}

func (s *PostgresStore) CreateImage(ctx context.Context, table string, img *models.ImageRecord) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (owner_id, sort_order, s3_key, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`, table)

	return s.pool.QueryRow(ctx, query,
		img.OwnerID, img.SortOrder, img.S3Key, img.CreatedAt,
	).Scan(&img.ID)
}
