// Package stream keeps an in-memory Database in step with a DynamoDB table
// written by the dynamo package, by applying its stream records.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"github.com/jacentio/arbor/dynamo"
	"github.com/jacentio/arbor/interchange"
	"github.com/jacentio/arbor/store"
)

// Handler applies DynamoDB stream events to a Database.
type Handler struct {
	db     *store.Database
	codec  *interchange.Connector
	config dynamo.Config
	logger *slog.Logger
}

// NewHandler creates a new stream handler. The stream must carry new
// images (NEW_IMAGE or NEW_AND_OLD_IMAGES).
func NewHandler(db *store.Database, codec *interchange.Connector, config dynamo.Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if config.KeyAttr == "" {
		config.KeyAttr = interchange.UUIDKey
	}
	if config.TableAttr == "" {
		config.TableAttr = "_table_"
	}
	return &Handler{
		db:     db,
		codec:  codec,
		config: config,
		logger: logger,
	}
}

// HandleChanges applies every record of event in order. A record that
// cannot be applied is logged and skipped; the batch is never retried
// because of it.
func (h *Handler) HandleChanges(ctx context.Context, event events.DynamoDBEvent) error {
	applied := 0
	for _, record := range event.Records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := h.processRecord(record); err != nil {
			h.logger.Warn("skipping stream record",
				"eventID", record.EventID,
				"eventName", record.EventName,
				"error", err,
			)
			continue
		}
		applied++
	}
	h.logger.Debug("stream batch applied",
		"records", len(event.Records),
		"applied", applied,
	)
	return nil
}

func (h *Handler) processRecord(record events.DynamoDBEventRecord) error {
	switch record.EventName {
	case "INSERT", "MODIFY":
		image := record.Change.NewImage
		if expired(image, h.config.TTLAttr, time.Now()) {
			return h.remove(record.Change.Keys)
		}
		table := getStringAttr(image, h.config.TableAttr)
		if table == "" {
			return fmt.Errorf("image has no %q attribute", h.config.TableAttr)
		}
		row, err := ConvertImage(image, h.config)
		if err != nil {
			return err
		}
		rec, err := h.codec.Apply(h.db, table, row)
		if err != nil {
			return fmt.Errorf("apply %s: %w", table, err)
		}
		h.logger.Debug("record mirrored", "record", rec.String(), "uuid", row[interchange.UUIDKey])
		return nil

	case "REMOVE":
		return h.remove(record.Change.Keys)
	}
	return nil
}

func (h *Handler) remove(keys map[string]events.DynamoDBAttributeValue) error {
	key := getStringAttr(keys, h.config.KeyAttr)
	u, err := uuid.Parse(key)
	if err != nil {
		return fmt.Errorf("%w: %q", interchange.ErrMissingUUID, key)
	}
	removed, err := h.codec.Remove(u)
	if err != nil {
		return err
	}
	if !removed {
		h.logger.Debug("record not mirrored", "uuid", key)
	}
	return nil
}

// expired reports whether image carries a TTL at or before now.
func expired(image map[string]events.DynamoDBAttributeValue, attr string, now time.Time) bool {
	if attr == "" {
		return false
	}
	v, ok := image[attr]
	if !ok || v.DataType() != events.DataTypeNumber {
		return false
	}
	ttl, err := v.Int64()
	if err != nil {
		return false
	}
	return ttl <= now.Unix()
}

// ConvertImage converts a stream image into an interchange row: the key
// attribute becomes "_uuid_", the table and TTL attributes are dropped,
// numbers become float64 as they would from JSON.
func ConvertImage(image map[string]events.DynamoDBAttributeValue, config dynamo.Config) (interchange.Row, error) {
	row := make(interchange.Row, len(image))
	for k, v := range image {
		if k == config.TableAttr || (config.TTLAttr != "" && k == config.TTLAttr) {
			continue
		}
		if k == config.KeyAttr {
			k = interchange.UUIDKey
		}
		switch v.DataType() {
		case events.DataTypeString:
			row[k] = v.String()
		case events.DataTypeNumber:
			n, err := strconv.ParseFloat(v.Number(), 64)
			if err != nil {
				return nil, fmt.Errorf("attribute %q: %w", k, err)
			}
			row[k] = n
		case events.DataTypeNull:
			row[k] = nil
		case events.DataTypeBoolean:
			row[k] = strconv.FormatBool(v.Boolean())
		default:
			return nil, fmt.Errorf("attribute %q: unsupported type %v", k, v.DataType())
		}
	}
	return row, nil
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}
