package services

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/alphabatem/common/context"
	"github.com/glebarez/sqlite"
	"github.com/hrforge/sentinel_api/model"
	"github.com/hrforge/sentinel_api/shared"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type DatabaseService struct {
	context.DefaultService
	db *gorm.DB

	dsn        string
	sqlitePath string
}

const DATABASE_SVC = "database_svc"

func (ds DatabaseService) Id() string {
	return DATABASE_SVC
}

// Db Access to raw DatabaseService db
func (ds DatabaseService) Db() *gorm.DB {
	return ds.db
}

func (ds *DatabaseService) Configure(ctx *context.Context) error {
	ds.dsn = os.Getenv("DATABASE_URL")
	if ds.dsn == "" {
		host := os.Getenv("DB_HOST")
		if host != "" {
			port := os.Getenv("DB_PORT")
			if port == "" {
				port = "5432"
			}
			user := os.Getenv("DB_USER")
			if user == "" {
				user = "postgres"
			}
			password := os.Getenv("DB_PASSWORD")
			if password == "" {
				password = "postgres"
			}
			dbname := os.Getenv("DB_NAME")
			if dbname == "" {
				dbname = "sentinel_api"
			}
			sslmode := os.Getenv("DB_SSLMODE")
			if sslmode == "" {
				sslmode = "disable"
			}

			ds.dsn = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
				host, user, password, dbname, port, sslmode)
		}
	}

	ds.sqlitePath = os.Getenv("SQLITE_PATH")
	if ds.sqlitePath == "" {
		ds.sqlitePath = "sentinel.db"
	}

	return ds.DefaultService.Configure(ctx)
}

// Start the service and open connection to the database.
// Falls back to a local SQLite file when no Postgres DSN is configured.
func (ds *DatabaseService) Start() (err error) {
	cfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error),
	}

	if ds.dsn != "" {
		ds.db, err = gorm.Open(postgres.Open(ds.dsn), cfg)
	} else {
		ds.db, err = gorm.Open(sqlite.Open(ds.sqlitePath), cfg)
	}
	if err != nil {
		return err
	}

	models := []interface{}{
		&model.AttendanceDevice{},
		&model.DeviceApiKey{},
		&model.AuditLog{},
		&model.SecurityAlert{},
	}

	err = ds.db.AutoMigrate(models...)
	if err != nil {
		log.Printf("Failed to migrate database: %v", err)
		return err
	}

	log.Println("Database connected and migrated successfully")
	return nil
}

func (ds *DatabaseService) Shutdown() {
}

// FindDevice resolves a registered device by ID. Returns a 404 AppError
// when the device does not exist or is soft-deleted.
func (ds *DatabaseService) FindDevice(deviceID string) (*model.AttendanceDevice, error) {
	var device model.AttendanceDevice
	err := ds.db.Where("id = ? AND is_deleted = ?", deviceID, false).First(&device).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.NewAppError(http.StatusNotFound, fmt.Sprintf("Device %s not found", deviceID))
		}
		return nil, ds.HandleError(err)
	}
	return &device, nil
}

func (ds *DatabaseService) HandleError(err error) error {
	if err == nil {
		return nil
	}

	var statusCode int
	var errorType string

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		statusCode = http.StatusNotFound
		errorType = "NOT_FOUND"
	case errors.Is(err, gorm.ErrDuplicatedKey):
		statusCode = http.StatusConflict
		errorType = "CONFLICT"
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		statusCode = http.StatusBadRequest
		errorType = "FOREIGN_KEY_VIOLATION"
	case errors.Is(err, gorm.ErrInvalidTransaction):
		statusCode = http.StatusInternalServerError
		errorType = "TRANSACTION_ERROR"
	default:
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			statusCode = http.StatusConflict
			errorType = "UNIQUE_CONSTRAINT"
		} else if strings.Contains(err.Error(), "no such table") {
			statusCode = http.StatusInternalServerError
			errorType = "SCHEMA_ERROR"
		} else {
			statusCode = http.StatusInternalServerError
			errorType = "INTERNAL_ERROR"
		}
	}

	logEntry := log.WithFields(log.Fields{
		"status_code": statusCode,
		"error_type":  errorType,
		"error":       err.Error(),
	})

	if statusCode >= 500 {
		logEntry.Error("Database error occurred")
	} else {
		logEntry.Warn("Database operation failed")
	}

	return fmt.Errorf("%s: %w", errorType, err)
}
