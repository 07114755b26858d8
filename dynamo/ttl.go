package dynamo

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Expired reports whether item carries a TTL at or before now. Items
// without the attribute, or with a malformed one, are live.
func (c Config) Expired(item map[string]types.AttributeValue, now time.Time) bool {
	if c.TTLAttr == "" {
		return false
	}
	n, ok := item[c.TTLAttr].(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	ttl, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return false
	}
	return ttl <= now.Unix()
}

// liveFilter adds the expression that excludes expired items to in.
func (c Config) liveFilter(in *dynamodb.ScanInput, now time.Time) {
	if c.TTLAttr == "" {
		return
	}
	in.FilterExpression = aws.String("attribute_not_exists(#ttl) OR #ttl > :now")
	in.ExpressionAttributeNames = mergeExprNames(in.ExpressionAttributeNames, map[string]string{"#ttl": c.TTLAttr})
	in.ExpressionAttributeValues = mergeExprValues(in.ExpressionAttributeValues, map[string]types.AttributeValue{
		":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
	})
}

// expire marks the item with the given key for deletion by setting its TTL
// to now. An item that already has a TTL is left alone.
func (c *Connector) expire(ctx context.Context, key string, now time.Time) error {
	_, err := c.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(c.config.TableName),
		Key: map[string]types.AttributeValue{
			c.config.KeyAttr: &types.AttributeValueMemberS{Value: key},
		},
		UpdateExpression:         aws.String("SET #ttl = :now"),
		ConditionExpression:      aws.String("attribute_not_exists(#ttl)"),
		ExpressionAttributeNames: map[string]string{"#ttl": c.config.TTLAttr},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	})

	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return nil
	}
	return err
}

func mergeExprNames(maps ...map[string]string) map[string]string {
	result := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}

func mergeExprValues(maps ...map[string]types.AttributeValue) map[string]types.AttributeValue {
	result := make(map[string]types.AttributeValue)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}
