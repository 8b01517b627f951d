package invitation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/hireman/internal/model"
)

// Sender は招待通知の送付インターフェース。
// 実体はメールゲートウェイへのHTTP POSTであり、送達そのものは外部基盤が担う。
type Sender interface {
	// Send は1件の招待通知を送付する。
	// ゲートウェイが2xx以外を返した場合はエラーを返す。
	Send(ctx context.Context, assignment *model.InvitationAssignment) error
}

// gatewayRequest はメールゲートウェイへの送付リクエストのボディ。
type gatewayRequest struct {
	SlotID          string `json:"slot_id"`
	EvaluationID    string `json:"evaluation_id"`
	InterviewerID   string `json:"interviewer_id"`
	InterviewerName string `json:"interviewer_name"`
	CaseFolderRef   string `json:"case_folder_ref"`
	FitQuestionRef  string `json:"fit_question_ref"`
}

// HTTPSender はメールゲートウェイへHTTPで招待通知を送付するSender実装。
// クライアントにはsecurity.LinkGuardServiceが生成するSSRF防止付き
// クライアントを渡すことを想定している。
type HTTPSender struct {
	httpClient *http.Client
	gatewayURL string
	logger     *slog.Logger
}

// NewHTTPSender はHTTPSenderの新しいインスタンスを生成する。
func NewHTTPSender(httpClient *http.Client, gatewayURL string, logger *slog.Logger) *HTTPSender {
	return &HTTPSender{
		httpClient: httpClient,
		gatewayURL: gatewayURL,
		logger:     logger,
	}
}

// Send は1件の招待通知をメールゲートウェイに送付する。
func (s *HTTPSender) Send(ctx context.Context, assignment *model.InvitationAssignment) error {
	body, err := json.Marshal(gatewayRequest{
		SlotID:          assignment.SlotID,
		EvaluationID:    assignment.EvaluationID,
		InterviewerID:   assignment.InterviewerID,
		InterviewerName: assignment.InterviewerName,
		CaseFolderRef:   assignment.CaseFolderRef,
		FitQuestionRef:  assignment.FitQuestionRef,
	})
	if err != nil {
		return fmt.Errorf("送付リクエストのエンコードに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.gatewayURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Hireman/1.0 Recruitment Tracker")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Error("メールゲートウェイの呼び出しに失敗しました",
			slog.String("slot_id", assignment.SlotID),
			slog.String("error", err.Error()),
		)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.logger.Error("メールゲートウェイがエラーステータスを返しました",
			slog.String("slot_id", assignment.SlotID),
			slog.Int("http_status", resp.StatusCode),
		)
		return fmt.Errorf("メールゲートウェイがステータス %d を返しました", resp.StatusCode)
	}

	return nil
}

// compile-time interface check
var _ Sender = (*HTTPSender)(nil)
