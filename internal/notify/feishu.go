package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"

	"github.com/hearthctl/hearth/internal/config"
)

// FeishuNotifier sends messages through the Feishu/Lark API. The SDK
// client manages the tenant access token itself.
type FeishuNotifier struct {
	cfg    *config.FeishuConfig
	logger *slog.Logger
	api    *lark.Client
}

// NewFeishuNotifier creates a Feishu notifier.
func NewFeishuNotifier(cfg *config.FeishuConfig, logger *slog.Logger) *FeishuNotifier {
	return &FeishuNotifier{
		cfg:    cfg,
		logger: logger.With("channel", "feishu"),
		api:    lark.NewClient(cfg.AppID, cfg.AppSecret),
	}
}

// Name returns the channel identifier.
func (n *FeishuNotifier) Name() string {
	return "feishu"
}

// Send delivers one text message to the configured receiver.
func (n *FeishuNotifier) Send(ctx context.Context, text string) error {
	contentJSON, _ := json.Marshal(map[string]string{"text": text})

	resp, err := n.api.Im.Message.Create(ctx, larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(n.receiveIDType()).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(n.cfg.ReceiveID).
			MsgType("text").
			Content(string(contentJSON)).
			Build()).
		Build())
	if err != nil {
		return fmt.Errorf("feishu send API call: %w", err)
	}
	if !resp.Success() {
		return fmt.Errorf("feishu send error: code=%d msg=%s", resp.Code, resp.Msg)
	}
	return nil
}

// receiveIDType infers the id kind from its prefix: chat ids start with
// "oc_", open ids with "ou_".
func (n *FeishuNotifier) receiveIDType() string {
	if strings.HasPrefix(n.cfg.ReceiveID, "oc_") {
		return "chat_id"
	}
	return "open_id"
}
