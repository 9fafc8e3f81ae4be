// Package dynamostore keeps checklist items in a DynamoDB table with hash key
// "id" and range key "team".
package dynamostore

import (
	"context"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/aws/aws-sdk-go/service/dynamodb/expression"
	"github.com/pkg/errors"

	"github.com/planmeet/planmeet/internal/checklist"
)

// Store implements checklist.Store on DynamoDB.
type Store struct {
	db    dynamodbiface.DynamoDBAPI
	table string
}

var _ checklist.Store = (*Store)(nil)

// New creates a Store on table.
func New(db dynamodbiface.DynamoDBAPI, table string) *Store {
	return &Store{db: db, table: table}
}

// keyAttrs is the primary key of k.
func keyAttrs(k checklist.Key) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{
		"id":   {S: aws.String(k.ID)},
		"team": {S: aws.String(k.Team)},
	}
}

// Put writes the whole item.
func (s *Store) Put(ctx context.Context, item *checklist.Item) error {
	av, err := dynamodbattribute.MarshalMap(item)
	if err != nil {
		return errors.Wrap(err, "marshal checklist")
	}
	_, err = s.db.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
	})
	return errors.Wrapf(err, "dynamodb put %s", item.Key())
}

// GetByKey reads an item with a consistent read.
func (s *Store) GetByKey(ctx context.Context, k checklist.Key) (*checklist.Item, error) {
	out, err := s.db.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            keyAttrs(k),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "dynamodb get %s", k)
	}
	if len(out.Item) == 0 {
		return nil, checklist.ErrNotFound
	}
	return unmarshal(out.Item)
}

// UpdateFields issues one UpdateItem guarded by attribute_exists(id) and the
// preconditions of f.
func (s *Store) UpdateFields(ctx context.Context, k checklist.Key, f checklist.Fields) (*checklist.Item, error) {
	expr, err := updateExpression(f)
	if err != nil {
		return nil, errors.Wrap(err, "build update expression")
	}
	out, err := s.db.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       keyAttrs(k),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              aws.String(dynamodb.ReturnValueAllNew),
	})
	if err != nil {
		if isConditionFailure(err) {
			// tell a missing item apart from a failed precondition
			if _, getErr := s.GetByKey(ctx, k); errors.Is(getErr, checklist.ErrNotFound) {
				return nil, checklist.ErrNotFound
			}
			return nil, checklist.ErrConditionFailed
		}
		return nil, errors.Wrapf(err, "dynamodb update %s", k)
	}
	return unmarshal(out.Attributes)
}

func updateExpression(f checklist.Fields) (expression.Expression, error) {
	upd := expression.Set(expression.Name("updatedAt"), expression.Value(f.UpdatedAt))
	if f.Title != nil {
		upd = upd.Set(expression.Name("title"), expression.Value(*f.Title))
	}
	if f.Description != nil {
		upd = upd.Set(expression.Name("description"), expression.Value(*f.Description))
	}
	if f.Status != nil {
		upd = upd.Set(expression.Name("status"), expression.Value(string(*f.Status)))
	}
	if f.Submitted != nil {
		upd = upd.Set(expression.Name("submitted"), expression.Value(*f.Submitted))
	}
	if f.SubmittedAt != nil {
		upd = upd.Set(expression.Name("submittedAt"), expression.Value(*f.SubmittedAt))
	}

	cond := expression.AttributeExists(expression.Name("id"))
	if f.IfStatus != nil {
		cond = cond.And(expression.Name("status").Equal(expression.Value(string(*f.IfStatus))))
	}
	if f.IfUnsubmitted {
		cond = cond.And(notSubmitted())
	}
	return expression.NewBuilder().WithUpdate(upd).WithCondition(cond).Build()
}

func notSubmitted() expression.ConditionBuilder {
	return expression.Or(
		expression.AttributeNotExists(expression.Name("submitted")),
		expression.Name("submitted").Equal(expression.Value(false)),
	)
}

// Delete removes an item. A missing item is not an error.
func (s *Store) Delete(ctx context.Context, k checklist.Key) error {
	_, err := s.db.DeleteItemWithContext(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       keyAttrs(k),
	})
	return errors.Wrapf(err, "dynamodb delete %s", k)
}

// Scan runs a consistent full-table scan with the filter evaluated by
// DynamoDB.
func (s *Store) Scan(ctx context.Context, f checklist.Filter) ([]*checklist.Item, error) {
	input := &dynamodb.ScanInput{
		TableName:      aws.String(s.table),
		ConsistentRead: aws.Bool(true),
	}
	if cond, ok := filterCondition(f); ok {
		expr, err := expression.NewBuilder().WithFilter(cond).Build()
		if err != nil {
			return nil, errors.Wrap(err, "build filter expression")
		}
		input.FilterExpression = expr.Filter()
		input.ExpressionAttributeNames = expr.Names()
		input.ExpressionAttributeValues = expr.Values()
	}

	items := []*checklist.Item{}
	var decodeErr error
	err := s.db.ScanPagesWithContext(ctx, input, func(page *dynamodb.ScanOutput, _ bool) bool {
		for _, av := range page.Items {
			item, err := unmarshal(av)
			if err != nil {
				decodeErr = err
				return false
			}
			items = append(items, item)
		}
		return true
	})
	if err != nil {
		return nil, errors.Wrap(err, "dynamodb scan")
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	return items, nil
}

func filterCondition(f checklist.Filter) (expression.ConditionBuilder, bool) {
	var conds []expression.ConditionBuilder
	if f.Team != "" {
		conds = append(conds, expression.Name("team").Equal(expression.Value(f.Team)))
	}
	if f.Status != "" {
		conds = append(conds, expression.Name("status").Equal(expression.Value(string(f.Status))))
	}
	if f.Submitted != nil {
		if *f.Submitted {
			conds = append(conds, expression.Name("submitted").Equal(expression.Value(true)))
		} else {
			conds = append(conds, notSubmitted())
		}
	}
	switch len(conds) {
	case 0:
		return expression.ConditionBuilder{}, false
	case 1:
		return conds[0], true
	default:
		return expression.And(conds[0], conds[1], conds[2:]...), true
	}
}

// Ping checks that the table exists.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.db.DescribeTableWithContext(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)})
	return errors.Wrapf(err, "dynamodb describe %s", s.table)
}

// isConditionFailure reports a failed ConditionExpression.
func isConditionFailure(err error) bool {
	var aerr awserr.Error
	return errors.As(err, &aerr) && aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException
}

func unmarshal(av map[string]*dynamodb.AttributeValue) (*checklist.Item, error) {
	var item checklist.Item
	if err := dynamodbattribute.UnmarshalMap(av, &item); err != nil {
		return nil, errors.Wrap(err, "unmarshal checklist")
	}
	return &item, nil
}
