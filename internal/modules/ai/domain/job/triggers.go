package job

// 入库触发来源
const (
	TriggerSchedule = "schedule" // 定时调度
	TriggerStartup  = "startup"  // 启动时补跑一次
	TriggerManual   = "manual"   // HTTP / CLI 手动触发
	TriggerDocs     = "docs"     // 参考文档导入
)

// AllTriggers 返回所有触发来源及其描述
func AllTriggers() map[string]string {
	return map[string]string{
		TriggerSchedule: "定时调度触发",
		TriggerStartup:  "进程启动时触发",
		TriggerManual:   "手动触发",
		TriggerDocs:     "参考文档导入",
	}
}

// IsValidTrigger 校验触发来源是否有效
func IsValidTrigger(t string) bool {
	_, ok := AllTriggers()[t]
	return ok
}
