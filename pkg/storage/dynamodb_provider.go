package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/aws/aws-sdk-go/service/dynamodb/expression"

	"github.com/tcmartin/chatflow/pkg/models"
	"github.com/tcmartin/chatflow/pkg/validation"
)

// batchWriteLimit is the maximum number of requests DynamoDB accepts in one BatchWriteItem call
const batchWriteLimit = 25

// DynamoDBProvider implements the StorageProvider interface using DynamoDB
type DynamoDBProvider struct {
	client         dynamodbiface.DynamoDBAPI
	graphStore     *DynamoDBGraphStore
	executionStore *DynamoDBExecutionStore
	tablePrefix    string
}

// DynamoDBProviderConfig contains configuration for the DynamoDB provider
type DynamoDBProviderConfig struct {
	Region      string `json:"region"`
	AccessKey   string `json:"access_key"`
	SecretKey   string `json:"secret_key"`
	TablePrefix string `json:"table_prefix"`
	Endpoint    string `json:"endpoint"` // Optional, for local DynamoDB
}

// NewDynamoDBProvider creates a new DynamoDB storage provider
func NewDynamoDBProvider(config DynamoDBProviderConfig) (*DynamoDBProvider, error) {
	// Create AWS session
	awsConfig := &aws.Config{
		Region: aws.String(config.Region),
	}

	// Set credentials if provided
	if config.AccessKey != "" && config.SecretKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(
			config.AccessKey,
			config.SecretKey,
			"",
		)
	}

	// Set endpoint for local DynamoDB if provided
	if config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(config.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return NewDynamoDBProviderWithClient(dynamodb.New(sess), config.TablePrefix), nil
}

// NewDynamoDBProviderWithClient creates a new DynamoDB storage provider with a custom client
// This is primarily used for testing with mock clients
func NewDynamoDBProviderWithClient(client dynamodbiface.DynamoDBAPI, tablePrefix string) *DynamoDBProvider {
	return &DynamoDBProvider{
		client:         client,
		graphStore:     NewDynamoDBGraphStore(client, tablePrefix),
		executionStore: NewDynamoDBExecutionStore(client, tablePrefix),
		tablePrefix:    tablePrefix,
	}
}

// Initialize creates the tables that don't exist yet
func (p *DynamoDBProvider) Initialize(ctx context.Context) error {
	if err := p.graphStore.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize graph store: %w", err)
	}

	if err := p.executionStore.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize execution store: %w", err)
	}

	return nil
}

// Close cleans up resources
func (p *DynamoDBProvider) Close() error {
	// Nothing to close for DynamoDB client
	return nil
}

// GetGraphStore returns the flow graph store
func (p *DynamoDBProvider) GetGraphStore() GraphStore {
	return p.graphStore
}

// GetExecutionStore returns the execution store
func (p *DynamoDBProvider) GetExecutionStore() ExecutionStore {
	return p.executionStore
}

// tableSpec describes a table for ensureTable
type tableSpec struct {
	name    string
	hash    string
	rangeN  string // optional numeric range key
	indexes []indexSpec
}

type indexSpec struct {
	name   string
	hash   string
	rangeN string
}

// ensureTable creates the table if it doesn't exist and waits until it is active
func ensureTable(ctx context.Context, client dynamodbiface.DynamoDBAPI, spec tableSpec) error {
	// Check if table exists
	_, err := client.DescribeTableWithContext(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(spec.name),
	})
	if err == nil {
		return nil
	}

	var aerr awserr.Error
	if !errors.As(err, &aerr) || aerr.Code() != dynamodb.ErrCodeResourceNotFoundException {
		return fmt.Errorf("failed to check if table %s exists: %w", spec.name, err)
	}

	attributes := map[string]string{spec.hash: dynamodb.ScalarAttributeTypeS}
	if spec.rangeN != "" {
		attributes[spec.rangeN] = dynamodb.ScalarAttributeTypeN
	}

	input := &dynamodb.CreateTableInput{
		TableName:   aws.String(spec.name),
		KeySchema:   keySchema(spec.hash, spec.rangeN),
		BillingMode: aws.String(dynamodb.BillingModePayPerRequest),
	}
	for _, index := range spec.indexes {
		attributes[index.hash] = dynamodb.ScalarAttributeTypeS
		if index.rangeN != "" {
			attributes[index.rangeN] = dynamodb.ScalarAttributeTypeN
		}
		input.GlobalSecondaryIndexes = append(input.GlobalSecondaryIndexes, &dynamodb.GlobalSecondaryIndex{
			IndexName: aws.String(index.name),
			KeySchema: keySchema(index.hash, index.rangeN),
			Projection: &dynamodb.Projection{
				ProjectionType: aws.String(dynamodb.ProjectionTypeAll),
			},
		})
	}

	names := make([]string, 0, len(attributes))
	for name := range attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		input.AttributeDefinitions = append(input.AttributeDefinitions, &dynamodb.AttributeDefinition{
			AttributeName: aws.String(name),
			AttributeType: aws.String(attributes[name]),
		})
	}

	if _, err := client.CreateTableWithContext(ctx, input); err != nil {
		return fmt.Errorf("failed to create table %s: %w", spec.name, err)
	}

	// Wait for table to be created
	err = client.WaitUntilTableExistsWithContext(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(spec.name),
	})
	if err != nil {
		return fmt.Errorf("failed to wait for table %s creation: %w", spec.name, err)
	}
	return nil
}

func keySchema(hash, rangeKey string) []*dynamodb.KeySchemaElement {
	schema := []*dynamodb.KeySchemaElement{
		{AttributeName: aws.String(hash), KeyType: aws.String(dynamodb.KeyTypeHash)},
	}
	if rangeKey != "" {
		schema = append(schema, &dynamodb.KeySchemaElement{
			AttributeName: aws.String(rangeKey),
			KeyType:       aws.String(dynamodb.KeyTypeRange),
		})
	}
	return schema
}

// queryAll runs an equality query on a table or index and collects every page
func queryAll(ctx context.Context, client dynamodbiface.DynamoDBAPI, table, index, attribute, value string) ([]map[string]*dynamodb.AttributeValue, error) {
	keyCond := expression.Key(attribute).Equal(expression.Value(value))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build query expression: %w", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(table),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(true),
	}
	if index != "" {
		input.IndexName = aws.String(index)
	}

	var items []map[string]*dynamodb.AttributeValue
	for {
		result, err := client.QueryWithContext(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to query %s: %w", table, err)
		}
		items = append(items, result.Items...)
		if len(result.LastEvaluatedKey) == 0 {
			return items, nil
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
}

// batchWrite sends write requests in chunks and retries unprocessed items
func batchWrite(ctx context.Context, client dynamodbiface.DynamoDBAPI, table string, requests []*dynamodb.WriteRequest) error {
	for start := 0; start < len(requests); start += batchWriteLimit {
		end := start + batchWriteLimit
		if end > len(requests) {
			end = len(requests)
		}

		pending := map[string][]*dynamodb.WriteRequest{table: requests[start:end]}
		for len(pending) > 0 {
			result, err := client.BatchWriteItemWithContext(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return fmt.Errorf("failed to write batch to %s: %w", table, err)
			}
			pending = result.UnprocessedItems
		}
	}
	return nil
}

// dynamoDBFlowItem represents a flow item in DynamoDB
type dynamoDBFlowItem struct {
	FlowID      string `dynamodbav:"FlowID"`
	BotID       string `dynamodbav:"BotID"`
	Name        string `dynamodbav:"Name"`
	Description string `dynamodbav:"Description"`
	CreatedAt   int64  `dynamodbav:"CreatedAt"`
	UpdatedAt   int64  `dynamodbav:"UpdatedAt"`
}

// dynamoDBGraphItem stores a node or edge; Data holds the JSON document
type dynamoDBGraphItem struct {
	ID         string `dynamodbav:"ID"`
	FlowID     string `dynamodbav:"FlowID"`
	FromNodeID string `dynamodbav:"FromNodeID,omitempty"`
	Data       string `dynamodbav:"Data"`
}

// DynamoDBGraphStore implements the GraphStore interface using DynamoDB
type DynamoDBGraphStore struct {
	client     dynamodbiface.DynamoDBAPI
	flowsTable string
	nodesTable string
	edgesTable string
	now        func() time.Time
}

// NewDynamoDBGraphStore creates a new DynamoDB graph store
func NewDynamoDBGraphStore(client dynamodbiface.DynamoDBAPI, tablePrefix string) *DynamoDBGraphStore {
	return &DynamoDBGraphStore{
		client:     client,
		flowsTable: tablePrefix + "flows",
		nodesTable: tablePrefix + "flow_nodes",
		edgesTable: tablePrefix + "flow_edges",
		now:        time.Now,
	}
}

// Initialize creates the flow, node and edge tables
func (s *DynamoDBGraphStore) Initialize(ctx context.Context) error {
	specs := []tableSpec{
		{name: s.flowsTable, hash: "FlowID"},
		{name: s.nodesTable, hash: "ID", indexes: []indexSpec{{name: "FlowIndex", hash: "FlowID"}}},
		{name: s.edgesTable, hash: "ID", indexes: []indexSpec{
			{name: "FlowIndex", hash: "FlowID"},
			{name: "FromNodeIndex", hash: "FromNodeID"},
		}},
	}
	for _, spec := range specs {
		if err := ensureTable(ctx, s.client, spec); err != nil {
			return err
		}
	}
	return nil
}

// SaveFlow persists a flow definition, replacing its nodes and edges
func (s *DynamoDBGraphStore) SaveFlow(ctx context.Context, flow models.Flow) error {
	if err := checkNodeOwnership(ctx, s, flow); err != nil {
		return err
	}

	var createdAt int64
	existing, err := s.getFlowItem(ctx, flow.ID)
	if err != nil && !errors.Is(err, ErrFlowNotFound) {
		return err
	}
	if err == nil {
		createdAt = existing.CreatedAt
	}

	prepared, err := prepareFlow(flow, createdAt, s.now())
	if err != nil {
		return err
	}

	// Remove nodes and edges the new version no longer has
	keepNodes := make(map[string]bool, len(prepared.Nodes))
	for _, node := range prepared.Nodes {
		keepNodes[node.ID] = true
	}
	keepEdges := make(map[string]bool, len(prepared.Edges))
	for _, edge := range prepared.Edges {
		keepEdges[edge.ID] = true
	}
	if err := s.deleteGraphItems(ctx, s.nodesTable, prepared.ID, keepNodes); err != nil {
		return err
	}
	if err := s.deleteGraphItems(ctx, s.edgesTable, prepared.ID, keepEdges); err != nil {
		return err
	}

	nodeWrites := make([]*dynamodb.WriteRequest, 0, len(prepared.Nodes))
	for _, node := range prepared.Nodes {
		request, err := graphPut(node.ID, node.FlowID, "", node)
		if err != nil {
			return fmt.Errorf("failed to marshal node %s: %w", node.ID, err)
		}
		nodeWrites = append(nodeWrites, request)
	}
	if err := batchWrite(ctx, s.client, s.nodesTable, nodeWrites); err != nil {
		return err
	}

	edgeWrites := make([]*dynamodb.WriteRequest, 0, len(prepared.Edges))
	for _, edge := range prepared.Edges {
		request, err := graphPut(edge.ID, edge.FlowID, edge.FromNodeID, edge)
		if err != nil {
			return fmt.Errorf("failed to marshal edge %s: %w", edge.ID, err)
		}
		edgeWrites = append(edgeWrites, request)
	}
	if err := batchWrite(ctx, s.client, s.edgesTable, edgeWrites); err != nil {
		return err
	}

	// The flow item goes last so readers never see a flow without its graph
	item, err := dynamodbattribute.MarshalMap(dynamoDBFlowItem{
		FlowID:      prepared.ID,
		BotID:       prepared.BotID,
		Name:        prepared.Name,
		Description: prepared.Description,
		CreatedAt:   prepared.CreatedAt,
		UpdatedAt:   prepared.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal flow: %w", err)
	}
	_, err = s.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.flowsTable),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to save flow: %w", err)
	}
	return nil
}

func graphPut(id, flowID, fromNodeID string, v any) (*dynamodb.WriteRequest, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	item, err := dynamodbattribute.MarshalMap(dynamoDBGraphItem{
		ID:         id,
		FlowID:     flowID,
		FromNodeID: fromNodeID,
		Data:       string(data),
	})
	if err != nil {
		return nil, err
	}
	return &dynamodb.WriteRequest{PutRequest: &dynamodb.PutRequest{Item: item}}, nil
}

func (s *DynamoDBGraphStore) deleteGraphItems(ctx context.Context, table, flowID string, keep map[string]bool) error {
	items, err := queryAll(ctx, s.client, table, "FlowIndex", "FlowID", flowID)
	if err != nil {
		return err
	}

	var deletes []*dynamodb.WriteRequest
	for _, raw := range items {
		var item dynamoDBGraphItem
		if err := dynamodbattribute.UnmarshalMap(raw, &item); err != nil {
			return fmt.Errorf("failed to unmarshal item: %w", err)
		}
		if keep[item.ID] {
			continue
		}
		deletes = append(deletes, &dynamodb.WriteRequest{DeleteRequest: &dynamodb.DeleteRequest{
			Key: map[string]*dynamodb.AttributeValue{"ID": {S: aws.String(item.ID)}},
		}})
	}
	return batchWrite(ctx, s.client, table, deletes)
}

func (s *DynamoDBGraphStore) getFlowItem(ctx context.Context, flowID string) (dynamoDBFlowItem, error) {
	result, err := s.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.flowsTable),
		Key: map[string]*dynamodb.AttributeValue{
			"FlowID": {S: aws.String(flowID)},
		},
	})
	if err != nil {
		return dynamoDBFlowItem{}, fmt.Errorf("failed to get flow: %w", err)
	}
	if result.Item == nil {
		return dynamoDBFlowItem{}, ErrFlowNotFound
	}

	var item dynamoDBFlowItem
	if err := dynamodbattribute.UnmarshalMap(result.Item, &item); err != nil {
		return dynamoDBFlowItem{}, fmt.Errorf("failed to unmarshal flow: %w", err)
	}
	return item, nil
}

// GetFlow retrieves a flow definition
func (s *DynamoDBGraphStore) GetFlow(ctx context.Context, flowID string) (models.Flow, error) {
	item, err := s.getFlowItem(ctx, flowID)
	if err != nil {
		return models.Flow{}, err
	}

	flow := models.Flow{
		ID:          item.FlowID,
		BotID:       item.BotID,
		Name:        item.Name,
		Description: item.Description,
		CreatedAt:   item.CreatedAt,
		UpdatedAt:   item.UpdatedAt,
	}
	if flow.Nodes, err = s.queryNodes(ctx, "FlowIndex", "FlowID", flowID); err != nil {
		return models.Flow{}, err
	}
	if flow.Edges, err = s.queryEdges(ctx, "FlowIndex", "FlowID", flowID); err != nil {
		return models.Flow{}, err
	}
	sortNodes(flow.Nodes)
	sortEdges(flow.Edges)
	return flow, nil
}

// ListFlows returns metadata for all flows
func (s *DynamoDBGraphStore) ListFlows(ctx context.Context) ([]FlowMetadata, error) {
	input := &dynamodb.ScanInput{TableName: aws.String(s.flowsTable)}

	var items []dynamoDBFlowItem
	for {
		result, err := s.client.ScanWithContext(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to list flows: %w", err)
		}
		var page []dynamoDBFlowItem
		if err := dynamodbattribute.UnmarshalListOfMaps(result.Items, &page); err != nil {
			return nil, fmt.Errorf("failed to unmarshal flows: %w", err)
		}
		items = append(items, page...)
		if len(result.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}

	result := make([]FlowMetadata, 0, len(items))
	for _, item := range items {
		nodes, err := queryAll(ctx, s.client, s.nodesTable, "FlowIndex", "FlowID", item.FlowID)
		if err != nil {
			return nil, err
		}
		edges, err := queryAll(ctx, s.client, s.edgesTable, "FlowIndex", "FlowID", item.FlowID)
		if err != nil {
			return nil, err
		}
		result = append(result, FlowMetadata{
			ID:          item.FlowID,
			BotID:       item.BotID,
			Name:        item.Name,
			Description: item.Description,
			NodeCount:   len(nodes),
			EdgeCount:   len(edges),
			CreatedAt:   item.CreatedAt,
			UpdatedAt:   item.UpdatedAt,
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// DeleteFlow removes a flow with its nodes and edges
func (s *DynamoDBGraphStore) DeleteFlow(ctx context.Context, flowID string) error {
	if _, err := s.getFlowItem(ctx, flowID); err != nil {
		return err
	}

	// Delete the flow item first so the flow disappears even if cleanup fails midway
	_, err := s.client.DeleteItemWithContext(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.flowsTable),
		Key: map[string]*dynamodb.AttributeValue{
			"FlowID": {S: aws.String(flowID)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete flow: %w", err)
	}

	if err := s.deleteGraphItems(ctx, s.edgesTable, flowID, nil); err != nil {
		return err
	}
	return s.deleteGraphItems(ctx, s.nodesTable, flowID, nil)
}

// FindStartNodes returns the enabled start nodes of a flow
func (s *DynamoDBGraphStore) FindStartNodes(ctx context.Context, flowID string) ([]models.FlowNode, error) {
	nodes, err := s.queryNodes(ctx, "FlowIndex", "FlowID", flowID)
	if err != nil {
		return nil, err
	}
	return startNodes(nodes), nil
}

// FindByID returns the node or nil when it does not exist
func (s *DynamoDBGraphStore) FindByID(ctx context.Context, nodeID string) (*models.FlowNode, error) {
	result, err := s.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.nodesTable),
		Key: map[string]*dynamodb.AttributeValue{
			"ID": {S: aws.String(nodeID)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get node: %w", err)
	}
	if result.Item == nil {
		return nil, nil
	}

	var node models.FlowNode
	if err := decodeGraphItem(result.Item, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

// FindFromNode returns the edges leaving a node
func (s *DynamoDBGraphStore) FindFromNode(ctx context.Context, fromNodeID string) ([]models.FlowEdge, error) {
	edges, err := s.queryEdges(ctx, "FromNodeIndex", "FromNodeID", fromNodeID)
	if err != nil {
		return nil, err
	}
	sortEdges(edges)
	return edges, nil
}

// DetectCycles reports the cycles of a stored flow
func (s *DynamoDBGraphStore) DetectCycles(ctx context.Context, flowID string) (validation.CycleReport, error) {
	return cycleReport(ctx, s, flowID)
}

// ValidateFlowStructure validates a stored flow
func (s *DynamoDBGraphStore) ValidateFlowStructure(ctx context.Context, flowID string) (validation.Result, error) {
	return structureReport(ctx, s, flowID)
}

func (s *DynamoDBGraphStore) queryNodes(ctx context.Context, index, attribute, value string) ([]models.FlowNode, error) {
	items, err := queryAll(ctx, s.client, s.nodesTable, index, attribute, value)
	if err != nil {
		return nil, err
	}
	nodes := make([]models.FlowNode, 0, len(items))
	for _, item := range items {
		var node models.FlowNode
		if err := decodeGraphItem(item, &node); err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func (s *DynamoDBGraphStore) queryEdges(ctx context.Context, index, attribute, value string) ([]models.FlowEdge, error) {
	items, err := queryAll(ctx, s.client, s.edgesTable, index, attribute, value)
	if err != nil {
		return nil, err
	}
	edges := make([]models.FlowEdge, 0, len(items))
	for _, item := range items {
		var edge models.FlowEdge
		if err := decodeGraphItem(item, &edge); err != nil {
			return nil, err
		}
		edges = append(edges, edge)
	}
	return edges, nil
}

func decodeGraphItem(raw map[string]*dynamodb.AttributeValue, v any) error {
	var item dynamoDBGraphItem
	if err := dynamodbattribute.UnmarshalMap(raw, &item); err != nil {
		return fmt.Errorf("failed to unmarshal item: %w", err)
	}
	if err := json.Unmarshal([]byte(item.Data), v); err != nil {
		return fmt.Errorf("failed to decode item %s: %w", item.ID, err)
	}
	return nil
}

// dynamoDBExecutionItem represents an execution in DynamoDB. Status and StartTime are
// kept as attributes for the conditional update and the flow index.
type dynamoDBExecutionItem struct {
	ID        string `dynamodbav:"ID"`
	FlowID    string `dynamodbav:"FlowID"`
	Status    string `dynamodbav:"Status"`
	StartTime int64  `dynamodbav:"StartTime"`
	Data      string `dynamodbav:"Data"`
}

type dynamoDBTraceItem struct {
	ExecutionID string `dynamodbav:"ExecutionID"`
	Seq         int64  `dynamodbav:"Seq"`
	Data        string `dynamodbav:"Data"`
}

// DynamoDBExecutionStore implements the ExecutionStore interface using DynamoDB
type DynamoDBExecutionStore struct {
	client      dynamodbiface.DynamoDBAPI
	execTable   string
	tracesTable string

	seqMu   sync.Mutex
	lastSeq int64
}

// NewDynamoDBExecutionStore creates a new DynamoDB execution store
func NewDynamoDBExecutionStore(client dynamodbiface.DynamoDBAPI, tablePrefix string) *DynamoDBExecutionStore {
	return &DynamoDBExecutionStore{
		client:      client,
		execTable:   tablePrefix + "executions",
		tracesTable: tablePrefix + "execution_trace",
	}
}

// Initialize creates the execution and trace tables
func (s *DynamoDBExecutionStore) Initialize(ctx context.Context) error {
	specs := []tableSpec{
		{name: s.execTable, hash: "ID", indexes: []indexSpec{{name: "FlowIndex", hash: "FlowID", rangeN: "StartTime"}}},
		{name: s.tracesTable, hash: "ExecutionID", rangeN: "Seq"},
	}
	for _, spec := range specs {
		if err := ensureTable(ctx, s.client, spec); err != nil {
			return err
		}
	}
	return nil
}

// SaveExecution persists execution data
func (s *DynamoDBExecutionStore) SaveExecution(ctx context.Context, execution models.Execution) error {
	item, err := encodeExecution(execution)
	if err != nil {
		return err
	}
	_, err = s.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.execTable),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}
	return nil
}

func encodeExecution(execution models.Execution) (map[string]*dynamodb.AttributeValue, error) {
	execution.NodeTrace = nil
	data, err := json.Marshal(execution)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal execution: %w", err)
	}
	item, err := dynamodbattribute.MarshalMap(dynamoDBExecutionItem{
		ID:        execution.ID,
		FlowID:    execution.FlowID,
		Status:    string(execution.Status),
		StartTime: execution.StartTime.UnixNano(),
		Data:      string(data),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal execution item: %w", err)
	}
	return item, nil
}

func decodeExecution(raw map[string]*dynamodb.AttributeValue) (models.Execution, error) {
	var item dynamoDBExecutionItem
	if err := dynamodbattribute.UnmarshalMap(raw, &item); err != nil {
		return models.Execution{}, fmt.Errorf("failed to unmarshal execution item: %w", err)
	}
	var execution models.Execution
	if err := json.Unmarshal([]byte(item.Data), &execution); err != nil {
		return models.Execution{}, fmt.Errorf("failed to unmarshal execution: %w", err)
	}
	return execution, nil
}

// GetExecution retrieves execution data
func (s *DynamoDBExecutionStore) GetExecution(ctx context.Context, executionID string) (models.Execution, error) {
	result, err := s.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.execTable),
		Key: map[string]*dynamodb.AttributeValue{
			"ID": {S: aws.String(executionID)},
		},
	})
	if err != nil {
		return models.Execution{}, fmt.Errorf("failed to get execution: %w", err)
	}
	if result.Item == nil {
		return models.Execution{}, ErrExecutionNotFound
	}
	return decodeExecution(result.Item)
}

// ListExecutions returns the executions of a flow
func (s *DynamoDBExecutionStore) ListExecutions(ctx context.Context, flowID string) ([]models.Execution, error) {
	items, err := queryAll(ctx, s.client, s.execTable, "FlowIndex", "FlowID", flowID)
	if err != nil {
		return nil, err
	}

	result := make([]models.Execution, 0, len(items))
	for _, item := range items {
		execution, err := decodeExecution(item)
		if err != nil {
			return nil, err
		}
		result = append(result, execution)
	}
	sortExecutions(result)
	return result, nil
}

// nextSeq returns a strictly increasing trace sequence number based on the wall clock
func (s *DynamoDBExecutionStore) nextSeq() int64 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	seq := time.Now().UnixNano()
	if seq <= s.lastSeq {
		seq = s.lastSeq + 1
	}
	s.lastSeq = seq
	return seq
}

// AddToNodeTrace appends one trace entry
func (s *DynamoDBExecutionStore) AddToNodeTrace(ctx context.Context, executionID string, entry models.TraceEntry) error {
	if _, err := s.GetExecution(ctx, executionID); err != nil {
		return err
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal trace entry: %w", err)
	}
	item, err := dynamodbattribute.MarshalMap(dynamoDBTraceItem{
		ExecutionID: executionID,
		Seq:         s.nextSeq(),
		Data:        string(data),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal trace item: %w", err)
	}

	_, err = s.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tracesTable),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to add trace entry: %w", err)
	}
	return nil
}

// GetNodeTrace retrieves the trace of an execution
func (s *DynamoDBExecutionStore) GetNodeTrace(ctx context.Context, executionID string) ([]models.TraceEntry, error) {
	if _, err := s.GetExecution(ctx, executionID); err != nil {
		return nil, err
	}

	items, err := queryAll(ctx, s.client, s.tracesTable, "", "ExecutionID", executionID)
	if err != nil {
		return nil, err
	}

	var traceItems []dynamoDBTraceItem
	if err := dynamodbattribute.UnmarshalListOfMaps(items, &traceItems); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trace: %w", err)
	}
	sort.Slice(traceItems, func(i, j int) bool { return traceItems[i].Seq < traceItems[j].Seq })

	trace := make([]models.TraceEntry, 0, len(traceItems))
	for _, item := range traceItems {
		var entry models.TraceEntry
		if err := json.Unmarshal([]byte(item.Data), &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trace entry: %w", err)
		}
		trace = append(trace, entry)
	}
	return trace, nil
}

// UpdateStatus moves an execution to a new status unless it already finished. The
// write is conditional on the status read, so a concurrent terminal write wins.
func (s *DynamoDBExecutionStore) UpdateStatus(ctx context.Context, executionID string, update models.ExecutionUpdate) error {
	current, err := s.GetExecution(ctx, executionID)
	if err != nil {
		return err
	}

	updated, err := update.Apply(current)
	if err != nil {
		return err
	}

	item, err := encodeExecution(updated)
	if err != nil {
		return err
	}

	cond := expression.Name("Status").Equal(expression.Value(string(current.Status)))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("failed to build condition: %w", err)
	}

	_, err = s.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(s.execTable),
		Item:                      item,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	var aerr awserr.Error
	if errors.As(err, &aerr) && aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException {
		return ErrExecutionTerminal
	}
	if err != nil {
		return fmt.Errorf("failed to update execution status: %w", err)
	}
	return nil
}
