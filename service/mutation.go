package service

import (
	"context"
)

// mutation 一次乐观变更：先本地生效，失败再精确回滚。
// 约束：
// - Apply/Rollback 必须只动这次操作涉及的状态切片，快照在 Apply 前取好；
// - 同一实体上的并发操作各带各的快照，回滚可能"复活"别的操作删掉的实体，
//   这是已接受的限制，不在这里串行化。
type mutation struct {
	Name     string
	Apply    func()
	Call     func(ctx context.Context) error
	Rollback func()
	Commit   func() // 可选：用服务端权威数据做二次校准
}

// runOptimistic 执行乐观变更：
// 1) 同步 Apply；2) 网络调用；3) 成功 Commit（可选），失败 Rollback + toast。
// 返回网络调用的错误，调用方可以继续加工，但不允许再抛给 UI。
func (s *Service) runOptimistic(ctx context.Context, m mutation) error {
	if m.Apply != nil {
		m.Apply()
	}

	err := m.Call(ctx)
	if err != nil {
		if m.Rollback != nil {
			m.Rollback()
		}
		s.logger().Warn("optimistic mutation rolled back", "op", m.Name, "error", err)
		s.toast(ToastError, m.Name+" failed")
		return err
	}

	if m.Commit != nil {
		m.Commit()
	}
	return nil
}
