package repository

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/mediashield/go-secure-media-server/types"
)

// implements RevocationStore on a DynamoDB table keyed by session_id with a
// (reason, last_updated) secondary index and native ttl expiry on the ttl attribute
type DynamoRevocationStore struct {
	client    *dynamodb.Client
	tableName string
	indexName string
	now       func() time.Time
}

func NewDynamoRevocationStore(client *dynamodb.Client, tableName, indexName string) *DynamoRevocationStore {
	return &DynamoRevocationStore{client: client, tableName: tableName, indexName: indexName, now: time.Now}
}

func (d *DynamoRevocationStore) Put(ctx context.Context, record *types.SessionRecord) error {
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return err
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      item,
	})
	return handleAwsError("PutItem", err)
}

func (d *DynamoRevocationStore) ListActive(ctx context.Context, since time.Time) ([]*types.SessionRecord, error) {
	paginator := dynamodb.NewQueryPaginator(d.client, &dynamodb.QueryInput{
		TableName:              aws.String(d.tableName),
		IndexName:              aws.String(d.indexName),
		KeyConditionExpression: aws.String("reason = :r and last_updated >= :l"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":r": &ddbtypes.AttributeValueMemberS{Value: types.RevocationReasonCompromised},
			":l": &ddbtypes.AttributeValueMemberN{Value: strconv.FormatInt(since.Unix(), 10)},
		},
	})
	now := d.now()
	records := []*types.SessionRecord{}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, handleAwsError("Query", err)
		}
		var batch []*types.SessionRecord
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, err
		}
		for _, r := range batch {
			// ttl deletion is lazy, items can outlive their ttl for a while
			if r.Expired(now) {
				continue
			}
			records = append(records, r)
		}
	}
	return records, nil
}
