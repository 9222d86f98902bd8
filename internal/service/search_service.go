package service

import (
	"context"
	"fmt"

	"medichat-go/internal/model"
	"medichat-go/pkg/es"
)

// SearchService 接口定义了对话内容检索相关的业务操作。
type SearchService interface {
	IndexTurn(ctx context.Context, userID uint, conversationID string, turn model.Turn) error
	Search(ctx context.Context, userID uint, query string, topK int) ([]model.TurnSearchHit, error)
}

// turnDocID 从消息自身派生稳定的文档 id。同一条消息重算结果不变，
// 不依赖任何进程内计数器，重启后继续追加也不会复用旧 id。
func turnDocID(conversationID string, turn model.Turn) string {
	return fmt.Sprintf("%s-%d", conversationID, turn.Timestamp.UnixNano())
}

// searchService 是 SearchService 接口的实现。
type searchService struct {
	indexName string
}

// NewSearchService 创建一个新的 SearchService 实例。
func NewSearchService(indexName string) SearchService {
	return &searchService{indexName: indexName}
}

// IndexTurn 将一条已定稿的消息写入 Elasticsearch。
// 错误提示消息不参与检索。
func (s *searchService) IndexTurn(ctx context.Context, userID uint, conversationID string, turn model.Turn) error {
	if turn.Type == model.TurnTypeError {
		return nil
	}

	doc := model.TurnDocument{
		DocID:          turnDocID(conversationID, turn),
		UserID:         userID,
		ConversationID: conversationID,
		Role:           turn.Type,
		Content:        turn.Content,
		Timestamp:      turn.Timestamp,
	}
	return es.IndexDocument(ctx, s.indexName, doc)
}

// Search 在当前用户的历史消息中检索与 query 匹配的内容。
func (s *searchService) Search(ctx context.Context, userID uint, query string, topK int) ([]model.TurnSearchHit, error) {
	if topK <= 0 {
		topK = 10
	}
	return es.SearchTurns(ctx, s.indexName, userID, query, topK)
}
