// Package answer 提供了调用外部答案服务的客户端。
// 会话核心只依赖它的结构化契约（ok/content/citations），不关心后端如何生成答案。
package answer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"medichat-go/internal/config"
	"medichat-go/internal/model"
)

// Result 是答案服务的结构化返回。
// OK 为 false 时 Content 是可直接展示给用户的错误说明。
type Result struct {
	OK        bool
	Content   string
	Citations []model.Citation
}

// Client 定义了答案能力的契约。实现必须尊重 ctx 取消，
// 取消时返回 ctx 的错误而不是伪造结果。
type Client interface {
	Submit(ctx context.Context, question string, patient *model.PatientRecord) (*Result, error)
}

type httpClient struct {
	cfg    config.AnswerConfig
	client *http.Client
}

// NewClient 基于配置创建一个 OpenAI 兼容接口的答案客户端。
func NewClient(cfg config.AnswerConfig) Client {
	return &httpClient{
		cfg:    cfg,
		client: &http.Client{},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	// 医学网关在标准响应之外附带的引用列表（可选）。
	Citations []model.Citation `json:"citations,omitempty"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Submit 以非流式方式调用聊天接口并返回完整答案。
// 病人上下文渲染进 system 消息；patient 为 nil 时明确声明无档案。
func (c *httpClient) Submit(ctx context.Context, question string, patient *model.PatientRecord) (*Result, error) {
	reqBody := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: c.buildSystemMessage(patient)},
			{Role: "user", Content: question},
		},
		Stream: false,
	}
	if c.cfg.Generation.Temperature != 0 {
		t := c.cfg.Generation.Temperature
		reqBody.Temperature = &t
	}
	if c.cfg.Generation.TopP != 0 {
		p := c.cfg.Generation.TopP
		reqBody.TopP = &p
	}
	if c.cfg.Generation.MaxTokens != 0 {
		m := c.cfg.Generation.MaxTokens
		reqBody.MaxTokens = &m
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call chat api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("chat api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("failed to decode chat response: %w", err)
	}
	if chatResp.Error != nil {
		return &Result{OK: false, Content: chatResp.Error.Message}, nil
	}
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("chat api returned empty choices")
	}

	return &Result{
		OK:        true,
		Content:   chatResp.Choices[0].Message.Content,
		Citations: chatResp.Citations,
	}, nil
}

// buildSystemMessage 组装 system 提示：规则 + 包裹符内的病人上下文。
func (c *httpClient) buildSystemMessage(patient *model.PatientRecord) string {
	ctxStart := c.cfg.Prompt.ContextStart
	if ctxStart == "" {
		ctxStart = "<<PATIENT>>"
	}
	ctxEnd := c.cfg.Prompt.ContextEnd
	if ctxEnd == "" {
		ctxEnd = "<<END>>"
	}

	var sys strings.Builder
	if c.cfg.Prompt.Rules != "" {
		sys.WriteString(c.cfg.Prompt.Rules)
		sys.WriteString("\n\n")
	}
	sys.WriteString(ctxStart)
	sys.WriteString("\n")
	if patient != nil {
		sys.WriteString(renderPatientContext(patient))
	} else {
		noPatient := c.cfg.Prompt.NoPatient
		if noPatient == "" {
			noPatient = "（本轮未关联病人档案）"
		}
		sys.WriteString(noPatient)
		sys.WriteString("\n")
	}
	sys.WriteString(ctxEnd)
	return sys.String()
}

// renderPatientContext 把病人档案压成提示词文本。附件正文截断，避免提示超限。
func renderPatientContext(p *model.PatientRecord) string {
	const maxSnippetLen = 1000

	var b strings.Builder
	fmt.Fprintf(&b, "姓名: %s  年龄: %d  性别: %s\n", p.FullName, p.Age, p.Sex)
	if len(p.ChronicConditions) > 0 {
		b.WriteString("慢性病:")
		for _, c := range p.ChronicConditions {
			fmt.Fprintf(&b, " %s", c.Name)
			if c.Since != "" {
				fmt.Fprintf(&b, "(自%s)", c.Since)
			}
		}
		b.WriteString("\n")
	}
	if len(p.Medications) > 0 {
		b.WriteString("用药:")
		for _, m := range p.Medications {
			fmt.Fprintf(&b, " %s %s %s", m.Name, m.Dosage, m.Frequency)
		}
		b.WriteString("\n")
	}
	if len(p.Allergies) > 0 {
		b.WriteString("过敏:")
		for _, a := range p.Allergies {
			fmt.Fprintf(&b, " %s(%s)", a.Substance, a.Reaction)
		}
		b.WriteString("\n")
	}
	if len(p.PastEvents) > 0 {
		b.WriteString("既往事件:")
		for _, e := range p.PastEvents {
			fmt.Fprintf(&b, " %s %s;", e.Date, e.Description)
		}
		b.WriteString("\n")
	}
	if p.Note != "" {
		fmt.Fprintf(&b, "备注: %s\n", p.Note)
	}
	for _, f := range p.Attachments {
		if f.ExtractedText == "" {
			continue
		}
		snippet := f.ExtractedText
		if len(snippet) > maxSnippetLen {
			snippet = snippet[:maxSnippetLen] + "…"
		}
		fmt.Fprintf(&b, "文档(%s): %s\n", f.FileName, snippet)
	}
	return b.String()
}
