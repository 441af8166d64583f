package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"persona-chat/internal/domain"
)

const (
	skPrefixMsg   = "MSG#"
	skMeta        = "META#"
	gsi1          = "GSI1"
	systemOwner   = "SYSTEM"
	condNotExists = "attribute_not_exists(PK) AND attribute_not_exists(SK)"
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoStore.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// DynamoStore keeps personas, conversations and messages in a single table.
//
// Item layout:
//
//	PERSONA#<id>           META#                    persona, GSI1 OWNER#<owner|SYSTEM>#PERSONA
//	PERSONANAME#<owner>#n  META#                    uniqueness marker for (owner, name)
//	CONV#<id>              META#                    conversation, GSI1 OWNER#<owner>#CONV
//	CONV#<id>              MSG#<created>#<msgID>    message
type DynamoStore struct {
	api       dynamodbAPI
	tableName string
}

// New creates a DynamoStore on the given table.
func New(api dynamodbAPI, tableName string) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &DynamoStore{api: api, tableName: tableName}, nil
}

func personaPK(id string) string { return "PERSONA#" + id }

func personaNamePK(ownerID, name string) string { return "PERSONANAME#" + ownerID + "#" + name }

func convPK(conversationID string) string { return "CONV#" + conversationID }

func msgSK(m domain.Message) string {
	return skPrefixMsg + formatTime(m.CreatedAt) + "#" + m.ID
}

func ownerPersonaKey(ownerID string) string {
	if ownerID == "" {
		ownerID = systemOwner
	}
	return "OWNER#" + ownerID + "#PERSONA"
}

func ownerConvKey(ownerID string) string { return "OWNER#" + ownerID + "#CONV" }

func key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// ---- Personas ----

// ListPersonas returns predefined personas plus those owned by userID, oldest first.
func (s *DynamoStore) ListPersonas(ctx context.Context, userID string) ([]domain.Persona, error) {
	owners := []string{""}
	if userID != "" {
		owners = append(owners, userID)
	}
	var out []domain.Persona
	for _, owner := range owners {
		items, err := s.queryAll(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			IndexName:              aws.String(gsi1),
			KeyConditionExpression: aws.String("GSI1PK = :pk"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: ownerPersonaKey(owner)},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("repository: ListPersonas query: %w", err)
		}
		for _, item := range items {
			p, err := itemToPersona(item)
			if err != nil {
				return nil, fmt.Errorf("repository: ListPersonas unmarshal: %w", err)
			}
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// GetPersona returns the persona with the given id or domain.ErrNotFound.
func (s *DynamoStore) GetPersona(ctx context.Context, id string) (domain.Persona, error) {
	item, err := s.getItem(ctx, personaPK(id), skMeta)
	if err != nil {
		return domain.Persona{}, fmt.Errorf("repository: GetPersona: %w", err)
	}
	p, err := itemToPersona(item)
	if err != nil {
		return domain.Persona{}, fmt.Errorf("repository: GetPersona unmarshal: %w", err)
	}
	return p, nil
}

// CreatePersona writes the persona and its (owner, name) marker atomically.
func (s *DynamoStore) CreatePersona(ctx context.Context, p domain.Persona) (domain.Persona, error) {
	if err := validatePersona(p); err != nil {
		return domain.Persona{}, err
	}
	tx := []types.TransactWriteItem{{
		Put: &types.Put{
			TableName:           aws.String(s.tableName),
			Item:                personaItem(p),
			ConditionExpression: aws.String(condNotExists),
		},
	}}
	if p.OwnerID != "" {
		tx = append(tx, s.putNameMarker(p))
	}
	if _, err := s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: tx}); err != nil {
		if _, ok := conditionFailedAt(err); ok {
			return domain.Persona{}, fmt.Errorf("repository: CreatePersona: %w", domain.ErrConflict)
		}
		return domain.Persona{}, fmt.Errorf("repository: CreatePersona: %w", err)
	}
	return p, nil
}

// UpdatePersona applies patch to a persona owned by callerID.
func (s *DynamoStore) UpdatePersona(ctx context.Context, callerID, id string, patch domain.PersonaPatch) (domain.Persona, error) {
	current, err := s.GetPersona(ctx, id)
	if err != nil {
		return domain.Persona{}, err
	}
	if err := checkOwner(current, callerID); err != nil {
		return domain.Persona{}, fmt.Errorf("repository: UpdatePersona: %w", err)
	}
	updated := patch.Apply(current)
	if err := validatePersona(updated); err != nil {
		return domain.Persona{}, err
	}

	tx := []types.TransactWriteItem{{
		Put: &types.Put{
			TableName:           aws.String(s.tableName),
			Item:                personaItem(updated),
			ConditionExpression: aws.String("ownerId = :owner"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":owner": &types.AttributeValueMemberS{Value: callerID},
			},
		},
	}}
	if updated.Name != current.Name {
		tx = append(tx,
			types.TransactWriteItem{Delete: &types.Delete{
				TableName: aws.String(s.tableName),
				Key:       key(personaNamePK(current.OwnerID, current.Name), skMeta),
			}},
			s.putNameMarker(updated),
		)
	}
	if _, err := s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: tx}); err != nil {
		if idx, ok := conditionFailedAt(err); ok {
			if idx == 0 {
				return domain.Persona{}, fmt.Errorf("repository: UpdatePersona: %w", domain.ErrForbidden)
			}
			return domain.Persona{}, fmt.Errorf("repository: UpdatePersona: %w", domain.ErrConflict)
		}
		return domain.Persona{}, fmt.Errorf("repository: UpdatePersona: %w", err)
	}
	return updated, nil
}

// DeletePersona removes a persona owned by callerID together with its name marker.
func (s *DynamoStore) DeletePersona(ctx context.Context, callerID, id string) error {
	current, err := s.GetPersona(ctx, id)
	if err != nil {
		return err
	}
	if err := checkOwner(current, callerID); err != nil {
		return fmt.Errorf("repository: DeletePersona: %w", err)
	}
	_, err = s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Delete: &types.Delete{
				TableName:           aws.String(s.tableName),
				Key:                 key(personaPK(id), skMeta),
				ConditionExpression: aws.String("ownerId = :owner"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":owner": &types.AttributeValueMemberS{Value: callerID},
				},
			}},
			{Delete: &types.Delete{
				TableName: aws.String(s.tableName),
				Key:       key(personaNamePK(current.OwnerID, current.Name), skMeta),
			}},
		},
	})
	if err != nil {
		if _, ok := conditionFailedAt(err); ok {
			return fmt.Errorf("repository: DeletePersona: %w", domain.ErrForbidden)
		}
		return fmt.Errorf("repository: DeletePersona: %w", err)
	}
	return nil
}

// SeedPersonas inserts predefined personas that are not already present.
func (s *DynamoStore) SeedPersonas(ctx context.Context, personas []domain.Persona) error {
	for _, p := range personas {
		if err := validatePersona(p); err != nil {
			return err
		}
		_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(s.tableName),
			Item:                personaItem(p),
			ConditionExpression: aws.String(condNotExists),
		})
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			continue
		}
		if err != nil {
			return fmt.Errorf("repository: SeedPersonas %s: %w", p.ID, err)
		}
	}
	return nil
}

func (s *DynamoStore) putNameMarker(p domain.Persona) types.TransactWriteItem {
	item := key(personaNamePK(p.OwnerID, p.Name), skMeta)
	item["personaId"] = &types.AttributeValueMemberS{Value: p.ID}
	return types.TransactWriteItem{Put: &types.Put{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String(condNotExists),
	}}
}

// ---- Conversations ----

// CreateConversation stores a new conversation. The persona must exist.
func (s *DynamoStore) CreateConversation(ctx context.Context, c domain.Conversation) (domain.Conversation, error) {
	if err := validateConversation(c); err != nil {
		return domain.Conversation{}, err
	}
	if _, err := s.GetPersona(ctx, c.PersonaID); err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: CreateConversation persona: %w", err)
	}
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                conversationItem(c),
		ConditionExpression: aws.String(condNotExists),
	})
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: CreateConversation: %w", err)
	}
	return c, nil
}

// GetConversation returns the conversation with the given id or domain.ErrNotFound.
func (s *DynamoStore) GetConversation(ctx context.Context, id string) (domain.Conversation, error) {
	item, err := s.getItem(ctx, convPK(id), skMeta)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: GetConversation: %w", err)
	}
	c, err := itemToConversation(item)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: GetConversation unmarshal: %w", err)
	}
	return c, nil
}

// ListConversations returns the owner's conversations, newest first.
func (s *DynamoStore) ListConversations(ctx context.Context, ownerID string) ([]domain.Conversation, error) {
	items, err := s.queryAll(ctx, s.ownerConvQuery(ownerID))
	if err != nil {
		return nil, fmt.Errorf("repository: ListConversations query: %w", err)
	}
	out := make([]domain.Conversation, 0, len(items))
	for _, item := range items {
		c, err := itemToConversation(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListConversations unmarshal: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}

// LatestConversation returns the owner's newest conversation with personaID.
func (s *DynamoStore) LatestConversation(ctx context.Context, ownerID, personaID string) (domain.Conversation, error) {
	in := s.ownerConvQuery(ownerID)
	in.FilterExpression = aws.String("personaId = :pid")
	in.ExpressionAttributeValues[":pid"] = &types.AttributeValueMemberS{Value: personaID}
	for {
		out, err := s.api.Query(ctx, in)
		if err != nil {
			return domain.Conversation{}, fmt.Errorf("repository: LatestConversation query: %w", err)
		}
		if out == nil {
			break
		}
		if len(out.Items) > 0 {
			c, err := itemToConversation(out.Items[0])
			if err != nil {
				return domain.Conversation{}, fmt.Errorf("repository: LatestConversation unmarshal: %w", err)
			}
			return c, nil
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
	return domain.Conversation{}, fmt.Errorf("repository: LatestConversation: %w", domain.ErrNotFound)
}

func (s *DynamoStore) ownerConvQuery(ownerID string) *dynamodb.QueryInput {
	return &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String(gsi1),
		KeyConditionExpression: aws.String("GSI1PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: ownerConvKey(ownerID)},
		},
		ScanIndexForward: aws.Bool(false),
	}
}

// ---- Messages ----

// AppendMessage stores m after checking that its conversation exists.
func (s *DynamoStore) AppendMessage(ctx context.Context, m domain.Message) (domain.Message, error) {
	if err := validateMessage(m); err != nil {
		return domain.Message{}, err
	}
	if _, err := s.getItem(ctx, convPK(m.ConversationID), skMeta); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Message{}, fmt.Errorf("repository: AppendMessage conversation %s: %w", m.ConversationID, domain.ErrForeignKey)
		}
		return domain.Message{}, fmt.Errorf("repository: AppendMessage: %w", err)
	}

	_, err := s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{ConditionCheck: &types.ConditionCheck{
				TableName:           aws.String(s.tableName),
				Key:                 key(convPK(m.ConversationID), skMeta),
				ConditionExpression: aws.String("attribute_exists(PK)"),
			}},
			{Put: &types.Put{
				TableName:           aws.String(s.tableName),
				Item:                messageItem(m),
				ConditionExpression: aws.String(condNotExists),
			}},
		},
	})
	if err != nil {
		if idx, ok := conditionFailedAt(err); ok && idx == 0 {
			return domain.Message{}, fmt.Errorf("repository: AppendMessage conversation %s: %w", m.ConversationID, domain.ErrForeignKey)
		}
		return domain.Message{}, fmt.Errorf("repository: AppendMessage: %w", err)
	}
	return m, nil
}

// ListRecentMessages returns up to limit of the newest messages, oldest first.
func (s *DynamoStore) ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	in := s.messagesQuery(conversationID)
	// Read newest first so LIMIT favors the most recent context.
	in.ScanIndexForward = aws.Bool(false)
	in.Limit = aws.Int32(int32(limit))

	out, err := s.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("repository: ListRecentMessages query: %w", err)
	}
	if out == nil {
		return nil, nil
	}
	msgs, err := itemsToMessages(out.Items)
	if err != nil {
		return nil, fmt.Errorf("repository: ListRecentMessages unmarshal: %w", err)
	}
	reverseMessages(msgs)
	return msgs, nil
}

// ListMessages returns the whole thread, oldest first.
func (s *DynamoStore) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	in := s.messagesQuery(conversationID)
	in.ScanIndexForward = aws.Bool(true)
	items, err := s.queryAll(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("repository: ListMessages query: %w", err)
	}
	msgs, err := itemsToMessages(items)
	if err != nil {
		return nil, fmt.Errorf("repository: ListMessages unmarshal: %w", err)
	}
	return msgs, nil
}

func (s *DynamoStore) messagesQuery(conversationID string) *dynamodb.QueryInput {
	return &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: convPK(conversationID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
	}
}

// ---- Helpers ----

func (s *DynamoStore) getItem(ctx context.Context, pk, sk string) (map[string]types.AttributeValue, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            key(pk, sk),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item %s: %w", pk, err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, domain.ErrNotFound
	}
	return out.Item, nil
}

func (s *DynamoStore) queryAll(ctx context.Context, in *dynamodb.QueryInput) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	for {
		out, err := s.api.Query(ctx, in)
		if err != nil {
			return nil, err
		}
		if out == nil {
			return items, nil
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// conditionFailedAt returns the index of the first transaction item whose
// condition check failed.
func conditionFailedAt(err error) (int, bool) {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return 0, false
	}
	for i, r := range tce.CancellationReasons {
		if aws.ToString(r.Code) == "ConditionalCheckFailed" {
			return i, true
		}
	}
	return 0, false
}

func personaItem(p domain.Persona) map[string]types.AttributeValue {
	item := key(personaPK(p.ID), skMeta)
	item["GSI1PK"] = &types.AttributeValueMemberS{Value: ownerPersonaKey(p.OwnerID)}
	item["GSI1SK"] = &types.AttributeValueMemberS{Value: formatTime(p.CreatedAt) + "#" + p.ID}
	item["id"] = &types.AttributeValueMemberS{Value: p.ID}
	item["name"] = &types.AttributeValueMemberS{Value: p.Name}
	item["description"] = &types.AttributeValueMemberS{Value: p.Description}
	item["avatarUrl"] = &types.AttributeValueMemberS{Value: p.AvatarURL}
	item["systemPrompt"] = &types.AttributeValueMemberS{Value: p.SystemPrompt}
	item["predefined"] = &types.AttributeValueMemberBOOL{Value: p.Predefined}
	item["createdAt"] = &types.AttributeValueMemberS{Value: formatTime(p.CreatedAt)}
	if p.OwnerID != "" {
		item["ownerId"] = &types.AttributeValueMemberS{Value: p.OwnerID}
	}
	return item
}

func itemToPersona(item map[string]types.AttributeValue) (domain.Persona, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.Persona{}, err
	}
	name, err := strAttr(item, "name")
	if err != nil {
		return domain.Persona{}, err
	}
	prompt, err := strAttr(item, "systemPrompt")
	if err != nil {
		return domain.Persona{}, err
	}
	created, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.Persona{}, err
	}
	predefined := false
	if v, ok := item["predefined"].(*types.AttributeValueMemberBOOL); ok {
		predefined = v.Value
	}
	return domain.Persona{
		ID:           id,
		OwnerID:      optStrAttr(item, "ownerId"),
		Name:         name,
		Description:  optStrAttr(item, "description"),
		AvatarURL:    optStrAttr(item, "avatarUrl"),
		SystemPrompt: prompt,
		Predefined:   predefined,
		CreatedAt:    created,
	}, nil
}

func conversationItem(c domain.Conversation) map[string]types.AttributeValue {
	item := key(convPK(c.ID), skMeta)
	item["GSI1PK"] = &types.AttributeValueMemberS{Value: ownerConvKey(c.OwnerID)}
	item["GSI1SK"] = &types.AttributeValueMemberS{Value: formatTime(c.CreatedAt) + "#" + c.ID}
	item["id"] = &types.AttributeValueMemberS{Value: c.ID}
	item["ownerId"] = &types.AttributeValueMemberS{Value: c.OwnerID}
	item["personaId"] = &types.AttributeValueMemberS{Value: c.PersonaID}
	item["createdAt"] = &types.AttributeValueMemberS{Value: formatTime(c.CreatedAt)}
	return item
}

func itemToConversation(item map[string]types.AttributeValue) (domain.Conversation, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.Conversation{}, err
	}
	owner, err := strAttr(item, "ownerId")
	if err != nil {
		return domain.Conversation{}, err
	}
	persona, err := strAttr(item, "personaId")
	if err != nil {
		return domain.Conversation{}, err
	}
	created, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.Conversation{}, err
	}
	return domain.Conversation{ID: id, OwnerID: owner, PersonaID: persona, CreatedAt: created}, nil
}

func messageItem(m domain.Message) map[string]types.AttributeValue {
	item := key(convPK(m.ConversationID), msgSK(m))
	item["id"] = &types.AttributeValueMemberS{Value: m.ID}
	item["conversationId"] = &types.AttributeValueMemberS{Value: m.ConversationID}
	item["role"] = &types.AttributeValueMemberS{Value: string(m.Role)}
	item["content"] = &types.AttributeValueMemberS{Value: m.Content}
	item["createdAt"] = &types.AttributeValueMemberS{Value: formatTime(m.CreatedAt)}
	return item
}

func itemsToMessages(items []map[string]types.AttributeValue) ([]domain.Message, error) {
	msgs := make([]domain.Message, 0, len(items))
	for _, item := range items {
		m, err := itemToMessage(item)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.Message{}, err
	}
	convID, err := strAttr(item, "conversationId")
	if err != nil {
		return domain.Message{}, err
	}
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.Message{}, err
	}
	created, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.Message{}, err
	}
	return domain.Message{
		ID:             id,
		ConversationID: convID,
		Role:           domain.Role(role),
		Content:        optStrAttr(item, "content"), // allow empty
		CreatedAt:      created,
	}, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func optStrAttr(item map[string]types.AttributeValue, key string) string {
	s, _ := strAttr(item, key)
	return s
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	raw, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	return parseTime(raw)
}
