package attention

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

/*
ScalarWriter receives one scalar per training batch for external
visualization. A failed write never stops training.
*/
type ScalarWriter interface {
	WriteScalar(tag string, step int, value float64) error
}

/*
FileSummaryWriter appends one JSON line per scalar to
<dir>/<run>/events.jsonl.
*/
type FileSummaryWriter struct {
	file *os.File
	log  *logrus.Logger
}

/*
NewFileSummaryWriter creates the run directory and opens the event file.
*/
func NewFileSummaryWriter(dir string, run string) (*FileSummaryWriter, error) {
	runDir := filepath.Join(dir, run)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create summary directory")
	}
	f, err := os.OpenFile(filepath.Join(runDir, "events.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open summary file")
	}

	log := logrus.New()
	log.SetOutput(f)
	log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	return &FileSummaryWriter{file: f, log: log}, nil
}

func (w *FileSummaryWriter) WriteScalar(tag string, step int, value float64) error {
	w.log.WithFields(logrus.Fields{
		"tag":   tag,
		"step":  step,
		"value": value,
	}).Info("scalar")
	return nil
}

func (w *FileSummaryWriter) Close() error {
	return w.file.Close()
}

/*
SQLSummaryWriter inserts scalars into the loss_summary table of a MySQL
database, tagged with the run name.
*/
type SQLSummaryWriter struct {
	db  *sql.DB
	run string
}

const createSummaryTable = `CREATE TABLE IF NOT EXISTS loss_summary (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	run VARCHAR(64) NOT NULL,
	tag VARCHAR(64) NOT NULL,
	step INT NOT NULL,
	value DOUBLE NOT NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`

/*
NewSQLSummaryWriter connects to dsn and makes sure the table exists.
*/
func NewSQLSummaryWriter(dsn string, run string) (*SQLSummaryWriter, error) {
	if _, err := mysql.ParseDSN(dsn); err != nil {
		return nil, errors.Wrap(err, "summary dsn")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open summary database")
	}
	if _, err := db.Exec(createSummaryTable); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create loss_summary")
	}
	return &SQLSummaryWriter{db: db, run: run}, nil
}

func (w *SQLSummaryWriter) WriteScalar(tag string, step int, value float64) error {
	_, err := w.db.Exec("INSERT INTO loss_summary (run, tag, step, value) VALUES (?, ?, ?, ?)", w.run, tag, step, value)
	return errors.Wrap(err, "insert loss_summary")
}

func (w *SQLSummaryWriter) Close() error {
	return w.db.Close()
}
