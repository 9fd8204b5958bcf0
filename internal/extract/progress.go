package extract

// Progress は抽出パイプラインの進捗通知です。TotalCalls / FailedCalls には
// 外部生成呼び出しの成否件数が入ります。
type Progress struct {
	Stage       string
	Percent     int
	Message     string
	TotalCalls  int
	FailedCalls int
}

// ProgressReporter は進捗更新用コールバックです。
type ProgressReporter func(p Progress)

func reportProgress(cb ProgressReporter, p Progress) {
	if cb == nil {
		return
	}
	if p.Percent < 0 {
		p.Percent = 0
	}
	if p.Percent > 100 {
		p.Percent = 100
	}
	cb(p)
}
