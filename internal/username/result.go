package username

import "github.com/hitoshi/icantchat/internal/model"

// 結果のステータス
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// SummaryChanged は変更成功時のメッセージ。
const SummaryChanged = "ニックネームを変更しました。"

// Result はニックネーム変更の結果。成功と失敗の2種類のみを表す。
type Result struct {
	Status string
	Type   string
	Text   string
}

// Success は成功のResultを生成する。Textには適用されたニックネームが入る。
func Success(change *model.UsernameChange) Result {
	return Result{Status: StatusSuccess, Type: SummaryChanged, Text: change.Text}
}

// Failure は失敗のResultを生成する。Typeにはサマリー、Textには詳細が入る。
func Failure(err *model.WorkflowError) Result {
	return Result{Status: StatusError, Type: err.Summary, Text: err.Details}
}

// OK は成功かどうかを返す。
func (r Result) OK() bool {
	return r.Status == StatusSuccess
}
