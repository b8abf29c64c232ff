package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/mediashield/go-secure-media-server/types"
)

// implements AssetCatalog on a DynamoDB table keyed by id
type DynamoAssetCatalog struct {
	client    *dynamodb.Client
	tableName string
}

func NewDynamoAssetCatalog(client *dynamodb.Client, tableName string) *DynamoAssetCatalog {
	return &DynamoAssetCatalog{client: client, tableName: tableName}
}

func (d *DynamoAssetCatalog) GetAsset(ctx context.Context, id string) (*types.Asset, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]ddbtypes.AttributeValue{
			"id": &ddbtypes.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return nil, handleAwsError("GetItem", err)
	}
	if len(out.Item) == 0 {
		return nil, fmt.Errorf("asset %s: %w", id, types.ErrNotFound)
	}
	var asset types.Asset
	if err := attributevalue.UnmarshalMap(out.Item, &asset); err != nil {
		return nil, err
	}
	if asset.TokenPolicy == nil {
		return nil, fmt.Errorf("asset %s has no token policy: %w", id, types.ErrPolicyViolation)
	}
	return &asset, nil
}

// UpdatePolicyBindings overwrites the ip flag and the bound header names of an existing asset policy.
func (d *DynamoAssetCatalog) UpdatePolicyBindings(ctx context.Context, id string, ip bool, headers []string) error {
	hv, err := attributevalue.Marshal(append([]string{}, headers...))
	if err != nil {
		return err
	}
	_, err = d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]ddbtypes.AttributeValue{
			"id": &ddbtypes.AttributeValueMemberS{Value: id},
		},
		UpdateExpression:    aws.String("SET token_policy.ip = :ip, token_policy.headers = :h"),
		ConditionExpression: aws.String("attribute_exists(id)"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":ip": &ddbtypes.AttributeValueMemberBOOL{Value: ip},
			":h":  hv,
		},
	})
	if err != nil {
		mapped := handleAwsError("UpdateItem", err)
		if errors.Is(mapped, types.ErrConflict) {
			return fmt.Errorf("asset %s: %w", id, types.ErrNotFound)
		}
		return mapped
	}
	return nil
}
