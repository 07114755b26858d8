// Package dynamo stores interchange dumps in a DynamoDB table.
//
// Each record becomes one item keyed by its interchange identifier, with
// the owning table name in a separate attribute. The table needs a single
// string hash key named after Config.KeyAttr.
package dynamo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/arbor/interchange"
	"github.com/jacentio/arbor/store"
)

// API is the subset of the DynamoDB client used by Connector.
type API interface {
	dynamodb.ScanAPIClient
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// Config holds configuration for a Connector.
type Config struct {
	// TableName is the DynamoDB table holding the records.
	// Default: "arbor_records"
	TableName string

	// KeyAttr is the hash key attribute holding the record identifier.
	// Default: "_uuid_"
	KeyAttr string

	// TableAttr is the attribute holding the record's table name.
	// Default: "_table_"
	TableAttr string

	// TTLAttr, if set, names the table's TTL attribute. Items of deleted
	// records are then expired by setting it instead of being deleted,
	// and expired items are ignored by Load.
	// Default: "" (delete items)
	TTLAttr string
}

// DefaultConfig returns the default attribute layout.
func DefaultConfig() Config {
	return Config{
		TableName: "arbor_records",
		KeyAttr:   interchange.UUIDKey,
		TableAttr: "_table_",
	}
}

// validate fills in defaults for unset values.
func (c *Config) validate() {
	if c.TableName == "" {
		c.TableName = "arbor_records"
	}
	if c.KeyAttr == "" {
		c.KeyAttr = interchange.UUIDKey
	}
	if c.TableAttr == "" {
		c.TableAttr = "_table_"
	}
}

// Connector saves and loads a Database through an interchange.Connector.
type Connector struct {
	client API
	codec  *interchange.Connector
	config Config
	logger *slog.Logger
}

// New creates a Connector. A nil logger uses slog.Default().
func New(client API, codec *interchange.Connector, config Config, logger *slog.Logger) *Connector {
	config.validate()
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{
		client: client,
		codec:  codec,
		config: config,
		logger: logger,
	}
}

// NewFromConfig creates a Connector with a client built from the default
// AWS configuration chain.
func NewFromConfig(ctx context.Context, codec *interchange.Connector, config Config, logger *slog.Logger, optFns ...func(*awsconfig.LoadOptions) error) (*Connector, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return New(dynamodb.NewFromConfig(cfg), codec, config, logger), nil
}

// Config returns the connector's configuration.
func (c *Connector) Config() Config {
	return c.config
}

// Item converts an interchange row to a DynamoDB item.
func (c *Connector) Item(table string, row interchange.Row) (map[string]types.AttributeValue, error) {
	doc := make(map[string]any, len(row)+1)
	for k, v := range row {
		if k == interchange.UUIDKey {
			k = c.config.KeyAttr
		}
		doc[k] = v
	}
	doc[c.config.TableAttr] = table
	return attributevalue.MarshalMap(doc)
}

// Row converts a DynamoDB item back into a table name and interchange row.
func (c *Connector) Row(item map[string]types.AttributeValue) (string, interchange.Row, error) {
	var doc map[string]any
	if err := attributevalue.UnmarshalMap(item, &doc); err != nil {
		return "", nil, err
	}
	table, ok := doc[c.config.TableAttr].(string)
	if !ok {
		return "", nil, fmt.Errorf("item has no %q attribute", c.config.TableAttr)
	}
	delete(doc, c.config.TableAttr)
	if c.config.TTLAttr != "" {
		delete(doc, c.config.TTLAttr)
	}

	row := make(interchange.Row, len(doc))
	for k, v := range doc {
		if k == c.config.KeyAttr {
			k = interchange.UUIDKey
		}
		row[k] = v
	}
	return table, row, nil
}

// Save writes every live record of db and deletes (or expires, see
// Config.TTLAttr) items of records that no longer exist. It returns the
// number of items written.
func (c *Connector) Save(ctx context.Context, db *store.Database) (int, error) {
	dump := c.codec.Export(db)

	live := make(map[string]bool)
	written := 0
	for table, rows := range dump {
		for _, row := range rows {
			item, err := c.Item(table, row)
			if err != nil {
				return written, fmt.Errorf("marshal %s row: %w", table, err)
			}
			_, err = c.client.PutItem(ctx, &dynamodb.PutItemInput{
				TableName: aws.String(c.config.TableName),
				Item:      item,
			})
			if err != nil {
				return written, fmt.Errorf("put %s row: %w", table, err)
			}
			live[row[interchange.UUIDKey].(string)] = true
			written++
		}
	}

	now := time.Now()
	stale, err := c.staleKeys(ctx, live, now)
	if err != nil {
		return written, err
	}
	for _, key := range stale {
		if c.config.TTLAttr != "" {
			if err := c.expire(ctx, key, now); err != nil {
				return written, fmt.Errorf("expire stale item %s: %w", key, err)
			}
			continue
		}
		_, err := c.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(c.config.TableName),
			Key: map[string]types.AttributeValue{
				c.config.KeyAttr: &types.AttributeValueMemberS{Value: key},
			},
		})
		if err != nil {
			return written, fmt.Errorf("delete stale item %s: %w", key, err)
		}
	}

	c.logger.Info("dataset saved",
		"table", c.config.TableName,
		"written", written,
		"removed", len(stale),
	)
	return written, nil
}

func (c *Connector) staleKeys(ctx context.Context, live map[string]bool, now time.Time) ([]string, error) {
	var stale []string
	input := &dynamodb.ScanInput{
		TableName:                aws.String(c.config.TableName),
		ProjectionExpression:     aws.String("#k"),
		ExpressionAttributeNames: map[string]string{"#k": c.config.KeyAttr},
	}
	c.config.liveFilter(input, now)
	paginator := dynamodb.NewScanPaginator(c.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan keys: %w", err)
		}
		for _, item := range page.Items {
			k, ok := item[c.config.KeyAttr].(*types.AttributeValueMemberS)
			if ok && !live[k.Value] {
				stale = append(stale, k.Value)
			}
		}
	}
	return stale, nil
}

// Load scans the table and imports every item into db. Items that cannot
// be decoded are logged and counted as skipped.
func (c *Connector) Load(ctx context.Context, db *store.Database) (interchange.Result, error) {
	dump := make(interchange.Dump)
	skipped := 0

	now := time.Now()
	input := &dynamodb.ScanInput{TableName: aws.String(c.config.TableName)}
	c.config.liveFilter(input, now)
	paginator := dynamodb.NewScanPaginator(c.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return interchange.Result{}, fmt.Errorf("scan: %w", err)
		}
		for _, item := range page.Items {
			// Scan filters are not applied by every implementation.
			if c.config.Expired(item, now) {
				continue
			}
			table, row, err := c.Row(item)
			if err != nil {
				c.logger.Warn("skipping item", "table", c.config.TableName, "error", err)
				skipped++
				continue
			}
			dump[table] = append(dump[table], row)
		}
	}

	res := c.codec.Import(db, dump)
	res.Skipped += skipped
	return res, nil
}
