package repository

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"assistant-agent/internal/domain"
)

const skToken = "TOKEN"

func tokenPK(label string) string {
	return "TOKEN#" + label
}

// GetToken returns domain.ErrTokenNotFound when nothing is stored under label.
func (c *Client) GetToken(ctx context.Context, label string) (domain.OAuthToken, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            itemKey(tokenPK(label), skToken),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.OAuthToken{}, fmt.Errorf("repository: GetToken: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.OAuthToken{}, fmt.Errorf("repository: GetToken %s: %w", label, domain.ErrTokenNotFound)
	}
	access, err := strAttr(out.Item, "accessToken")
	if err != nil {
		return domain.OAuthToken{}, fmt.Errorf("repository: GetToken unmarshal: %w", err)
	}
	tok := domain.OAuthToken{
		AccessToken:  access,
		RefreshToken: optStrAttr(out.Item, "refreshToken"),
		TokenType:    optStrAttr(out.Item, "tokenType"),
		Scope:        optStrAttr(out.Item, "scope"),
	}
	if expiry, err := optTimeAttr(out.Item, "expiry"); err == nil && expiry != nil {
		tok.Expiry = *expiry
	}
	if updated, err := optTimeAttr(out.Item, "updatedAt"); err == nil && updated != nil {
		tok.UpdatedAt = *updated
	}
	return tok, nil
}

// PutToken replaces the credential stored under label.
func (c *Client) PutToken(ctx context.Context, label string, tok domain.OAuthToken) error {
	item := map[string]types.AttributeValue{
		"PK":           strValue(tokenPK(label)),
		"SK":           strValue(skToken),
		"accessToken":  strValue(tok.AccessToken),
		"refreshToken": strValue(tok.RefreshToken),
		"tokenType":    strValue(tok.TokenType),
		"scope":        strValue(tok.Scope),
		"updatedAt":    timeValue(c.now()),
	}
	if !tok.Expiry.IsZero() {
		item["expiry"] = timeValue(tok.Expiry)
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("repository: PutToken: %w", err)
	}
	return nil
}
