package storage

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
)

var (
	useRealDynamoDB = flag.Bool("real-dynamodb", false, "Use real DynamoDB for tests instead of mock")
)

// MockDynamoDBAPI implements the parts of dynamodbiface.DynamoDBAPI the stores use
type MockDynamoDBAPI struct {
	dynamodbiface.DynamoDBAPI
	mu     sync.RWMutex
	tables map[string]*MockTable
}

// MockTable represents a DynamoDB table in memory
type MockTable struct {
	Name        string
	Items       map[string]map[string]*dynamodb.AttributeValue
	Indexes     map[string][]*dynamodb.KeySchemaElement
	BillingMode string
	KeySchema   []*dynamodb.KeySchemaElement
}

// NewMockDynamoDBAPI creates a new mock DynamoDB client
func NewMockDynamoDBAPI() *MockDynamoDBAPI {
	return &MockDynamoDBAPI{
		tables: make(map[string]*MockTable),
	}
}

func (m *MockDynamoDBAPI) table(name *string) (*MockTable, error) {
	table, exists := m.tables[aws.StringValue(name)]
	if !exists {
		return nil, awserr.New(dynamodb.ErrCodeResourceNotFoundException, "Requested resource not found", nil)
	}
	return table, nil
}

// CreateTableWithContext creates a mock table
func (m *MockDynamoDBAPI) CreateTableWithContext(_ aws.Context, input *dynamodb.CreateTableInput, _ ...request.Option) (*dynamodb.CreateTableOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tableName := aws.StringValue(input.TableName)
	if _, exists := m.tables[tableName]; exists {
		return nil, awserr.New(dynamodb.ErrCodeResourceInUseException, "table already exists: "+tableName, nil)
	}

	indexes := make(map[string][]*dynamodb.KeySchemaElement)
	for _, gsi := range input.GlobalSecondaryIndexes {
		indexes[aws.StringValue(gsi.IndexName)] = gsi.KeySchema
	}

	m.tables[tableName] = &MockTable{
		Name:        tableName,
		Items:       make(map[string]map[string]*dynamodb.AttributeValue),
		Indexes:     indexes,
		BillingMode: aws.StringValue(input.BillingMode),
		KeySchema:   input.KeySchema,
	}

	return &dynamodb.CreateTableOutput{
		TableDescription: &dynamodb.TableDescription{
			TableName:   input.TableName,
			TableStatus: aws.String(dynamodb.TableStatusActive),
		},
	}, nil
}

// DescribeTableWithContext describes a mock table
func (m *MockDynamoDBAPI) DescribeTableWithContext(_ aws.Context, input *dynamodb.DescribeTableInput, _ ...request.Option) (*dynamodb.DescribeTableOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	table, err := m.table(input.TableName)
	if err != nil {
		return nil, err
	}

	return &dynamodb.DescribeTableOutput{
		Table: &dynamodb.TableDescription{
			TableName:   aws.String(table.Name),
			TableStatus: aws.String(dynamodb.TableStatusActive),
			KeySchema:   table.KeySchema,
			BillingModeSummary: &dynamodb.BillingModeSummary{
				BillingMode: aws.String(table.BillingMode),
			},
		},
	}, nil
}

// DeleteTableWithContext deletes a mock table
func (m *MockDynamoDBAPI) DeleteTableWithContext(_ aws.Context, input *dynamodb.DeleteTableInput, _ ...request.Option) (*dynamodb.DeleteTableOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.table(input.TableName); err != nil {
		return nil, err
	}
	delete(m.tables, aws.StringValue(input.TableName))

	return &dynamodb.DeleteTableOutput{
		TableDescription: &dynamodb.TableDescription{
			TableName:   input.TableName,
			TableStatus: aws.String(dynamodb.TableStatusDeleting),
		},
	}, nil
}

// PutItemWithContext puts an item in a mock table. A condition expression is
// supported in the single "#name = :value" form the expression builder emits.
func (m *MockDynamoDBAPI) PutItemWithContext(_ aws.Context, input *dynamodb.PutItemInput, _ ...request.Option) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	table, err := m.table(input.TableName)
	if err != nil {
		return nil, err
	}

	key := generateKey(table.KeySchema, input.Item)
	if input.ConditionExpression != nil {
		if !conditionHolds(table.Items[key], input) {
			return nil, awserr.New(dynamodb.ErrCodeConditionalCheckFailedException, "The conditional request failed", nil)
		}
	}
	table.Items[key] = input.Item

	return &dynamodb.PutItemOutput{}, nil
}

func conditionHolds(existing map[string]*dynamodb.AttributeValue, input *dynamodb.PutItemInput) bool {
	if existing == nil || len(input.ExpressionAttributeNames) != 1 || len(input.ExpressionAttributeValues) != 1 {
		return false
	}
	for _, name := range input.ExpressionAttributeNames {
		for _, value := range input.ExpressionAttributeValues {
			attr, ok := existing[aws.StringValue(name)]
			return ok && aws.StringValue(attr.S) == aws.StringValue(value.S)
		}
	}
	return false
}

// GetItemWithContext gets an item from a mock table
func (m *MockDynamoDBAPI) GetItemWithContext(_ aws.Context, input *dynamodb.GetItemInput, _ ...request.Option) (*dynamodb.GetItemOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	table, err := m.table(input.TableName)
	if err != nil {
		return nil, err
	}

	item, exists := table.Items[generateKey(table.KeySchema, input.Key)]
	if !exists {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}

// QueryWithContext filters a table or index by its hash key. The key value is the
// single entry of ExpressionAttributeValues.
func (m *MockDynamoDBAPI) QueryWithContext(_ aws.Context, input *dynamodb.QueryInput, _ ...request.Option) (*dynamodb.QueryOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	table, err := m.table(input.TableName)
	if err != nil {
		return nil, err
	}

	schema := table.KeySchema
	if input.IndexName != nil {
		indexSchema, exists := table.Indexes[aws.StringValue(input.IndexName)]
		if !exists {
			return nil, fmt.Errorf("index not found: %s", aws.StringValue(input.IndexName))
		}
		schema = indexSchema
	}
	if len(input.ExpressionAttributeValues) != 1 {
		return nil, fmt.Errorf("mock query supports a single key value, got %d", len(input.ExpressionAttributeValues))
	}

	var want string
	for _, value := range input.ExpressionAttributeValues {
		want = aws.StringValue(value.S)
	}

	hashAttr := aws.StringValue(schema[0].AttributeName)
	var resultItems []map[string]*dynamodb.AttributeValue
	for _, item := range table.Items {
		if attr, ok := item[hashAttr]; ok && aws.StringValue(attr.S) == want {
			resultItems = append(resultItems, item)
		}
	}

	if len(schema) > 1 {
		rangeAttr := aws.StringValue(schema[1].AttributeName)
		forward := input.ScanIndexForward == nil || aws.BoolValue(input.ScanIndexForward)
		sort.Slice(resultItems, func(i, j int) bool {
			a, b := numberOf(resultItems[i][rangeAttr]), numberOf(resultItems[j][rangeAttr])
			if forward {
				return a < b
			}
			return a > b
		})
	}

	// Apply limit if specified
	if input.Limit != nil {
		limit := int(aws.Int64Value(input.Limit))
		if limit < len(resultItems) {
			resultItems = resultItems[:limit]
		}
	}

	return &dynamodb.QueryOutput{
		Items: resultItems,
		Count: aws.Int64(int64(len(resultItems))),
	}, nil
}

func numberOf(attr *dynamodb.AttributeValue) int64 {
	if attr == nil {
		return 0
	}
	n, _ := strconv.ParseInt(aws.StringValue(attr.N), 10, 64)
	return n
}

// ScanWithContext scans a mock table
func (m *MockDynamoDBAPI) ScanWithContext(_ aws.Context, input *dynamodb.ScanInput, _ ...request.Option) (*dynamodb.ScanOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	table, err := m.table(input.TableName)
	if err != nil {
		return nil, err
	}

	var resultItems []map[string]*dynamodb.AttributeValue
	for _, item := range table.Items {
		resultItems = append(resultItems, item)
	}

	return &dynamodb.ScanOutput{
		Items: resultItems,
		Count: aws.Int64(int64(len(resultItems))),
	}, nil
}

// BatchWriteItemWithContext performs batch write on mock tables
func (m *MockDynamoDBAPI) BatchWriteItemWithContext(_ aws.Context, input *dynamodb.BatchWriteItemInput, _ ...request.Option) (*dynamodb.BatchWriteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for tableName, writeRequests := range input.RequestItems {
		if len(writeRequests) > batchWriteLimit {
			return nil, awserr.New("ValidationException", "too many items in batch", nil)
		}
		table, err := m.table(aws.String(tableName))
		if err != nil {
			return nil, err
		}

		for _, writeRequest := range writeRequests {
			if writeRequest.PutRequest != nil {
				key := generateKey(table.KeySchema, writeRequest.PutRequest.Item)
				table.Items[key] = writeRequest.PutRequest.Item
			}
			if writeRequest.DeleteRequest != nil {
				key := generateKey(table.KeySchema, writeRequest.DeleteRequest.Key)
				delete(table.Items, key)
			}
		}
	}

	return &dynamodb.BatchWriteItemOutput{}, nil
}

// DeleteItemWithContext deletes an item from a mock table
func (m *MockDynamoDBAPI) DeleteItemWithContext(_ aws.Context, input *dynamodb.DeleteItemInput, _ ...request.Option) (*dynamodb.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	table, err := m.table(input.TableName)
	if err != nil {
		return nil, err
	}

	delete(table.Items, generateKey(table.KeySchema, input.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

// WaitUntilTableExistsWithContext returns immediately; mock tables are active on creation
func (m *MockDynamoDBAPI) WaitUntilTableExistsWithContext(aws.Context, *dynamodb.DescribeTableInput, ...request.WaiterOption) error {
	return nil
}

// WaitUntilTableNotExistsWithContext returns immediately
func (m *MockDynamoDBAPI) WaitUntilTableNotExistsWithContext(aws.Context, *dynamodb.DescribeTableInput, ...request.WaiterOption) error {
	return nil
}

// generateKey generates a composite key from key schema and item attributes
func generateKey(keySchema []*dynamodb.KeySchemaElement, item map[string]*dynamodb.AttributeValue) string {
	var keyParts []string
	for _, keyElement := range keySchema {
		attrName := aws.StringValue(keyElement.AttributeName)
		if attr, exists := item[attrName]; exists {
			if attr.S != nil {
				keyParts = append(keyParts, aws.StringValue(attr.S))
			} else if attr.N != nil {
				keyParts = append(keyParts, aws.StringValue(attr.N))
			}
		}
	}
	return strings.Join(keyParts, "#")
}

// getTestDynamoDBClient returns the mock, or a real client with -real-dynamodb
func getTestDynamoDBClient() (dynamodbiface.DynamoDBAPI, error) {
	if !*useRealDynamoDB {
		return NewMockDynamoDBAPI(), nil
	}

	accessKey := os.Getenv("AWS_ACCESS_KEY_ID")
	secretKey := os.Getenv("AWS_SECRET_ACCESS_KEY")
	endpoint := os.Getenv("DYNAMODB_ENDPOINT")

	awsConfig := &aws.Config{
		Region: aws.String("us-east-1"),
	}

	if accessKey != "" && secretKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")
	}

	if endpoint != "" {
		awsConfig.Endpoint = aws.String(endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return dynamodb.New(sess), nil
}
