package dispatch

import "fmt"

// completionSnapshot holds the fields of the global completion digest;
// digest renders them as the canonical summary string used to detect
// edges of global completion (spec §4.4).
type completionSnapshot struct {
	totalRounds      int
	completedRounds  int
	totalTasks       int
	completedTasks   int
	failedTasks      int
	roundedItems     int64
	roundedRunTime   int64
}

func (c completionSnapshot) digest() string {
	return fmt.Sprintf("r=%d/%d|t=%d|c=%d|f=%d|i=%d|rt=%d",
		c.completedRounds, c.totalRounds, c.totalTasks, c.completedTasks, c.failedTasks,
		c.roundedItems, c.roundedRunTime)
}

func (c completionSnapshot) allCompleted() bool {
	return c.totalRounds >= 1 && c.completedRounds == c.totalRounds
}

// buildWebhookText renders the Chinese-language status message posted to
// the operator chat channel (spec §4.4, §6 webhook payload).
func buildWebhookText(c completionSnapshot) string {
	var avgItem, avgTime float64
	if c.roundedRunTime > 0 {
		avgItem = float64(c.roundedItems) / float64(c.roundedRunTime)
		avgTime = (float64(c.roundedRunTime) / float64(c.roundedItems)) * 100
	}
	return fmt.Sprintf(
		"任务全部完成通知\n已完成轮次：%d/%d\n任务总数：%d，成功：%d，失败：%d\n累计处理条目：%d\n累计运行时间（秒）：%d\n平均速度：%.2f 条/秒\n每百条平均耗时：%.2f 秒",
		c.completedRounds, c.totalRounds, c.totalTasks, c.completedTasks, c.failedTasks,
		c.roundedItems, c.roundedRunTime, avgItem, avgTime,
	)
}
