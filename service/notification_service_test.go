package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/cydxin/chat-client-sdk/api"
	"github.com/cydxin/chat-client-sdk/cons"
	"github.com/cydxin/chat-client-sdk/message"
)

func newNotifyService(ack ackFunc) (*NotificationService, *[]string) {
	toasts := &[]string{}
	base := stubBase(toasts)
	base.EmitAck = ack
	return NewNotificationService(base, nil), toasts
}

func notifyFixture() []message.Notification {
	return []message.Notification{
		{ID: 3, Type: cons.NotifyTypeMention, Title: "c"},
		{ID: 2, Type: cons.NotifyTypeTaskAssign, Title: "b", IsRead: true},
		{ID: 1, Type: cons.NotifyTypeSystem, Title: "a"},
	}
}

func TestSubscribeResetsStore(t *testing.T) {
	svc, _ := newNotifyService(ackOK(message.NotifyListAck{
		Notifications: notifyFixture(),
		UnreadCount:   2,
	}))

	if err := svc.Subscribe(context.Background(), 50, false); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if svc.Store.Len() != 3 || svc.Store.Unread() != 2 {
		t.Fatalf("len=%d unread=%d, 期望 3/2", svc.Store.Len(), svc.Store.Unread())
	}
}

func TestSubscribeBareArrayRecountsUnread(t *testing.T) {
	raw, _ := json.Marshal(notifyFixture())
	svc, _ := newNotifyService(func(context.Context, string, any) (json.RawMessage, error) {
		return raw, nil
	})

	if err := svc.Subscribe(context.Background(), 50, false); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	// 裸数组没带 unread_count，按 IsRead 自行统计
	if svc.Store.Unread() != 2 {
		t.Fatalf("unread=%d, 期望 2", svc.Store.Unread())
	}
}

func TestMarkReadRollbackRestoresSnapshot(t *testing.T) {
	svc, toasts := newNotifyService(ackFail(errors.New("down")))
	svc.Store.Reset(notifyFixture(), -1)
	before := svc.Store.Snapshot()

	if err := svc.MarkRead(context.Background(), 3); err == nil {
		t.Fatal("MarkRead 应该失败")
	}
	after := svc.Store.Snapshot()
	if after.Unread != before.Unread || len(after.Items) != len(before.Items) {
		t.Fatalf("回滚不精确: before=%+v after=%+v", before, after)
	}
	for i := range before.Items {
		if before.Items[i].ID != after.Items[i].ID || before.Items[i].IsRead != after.Items[i].IsRead {
			t.Fatalf("第 %d 条不一致: %+v vs %+v", i, before.Items[i], after.Items[i])
		}
	}
	if len(*toasts) != 1 {
		t.Fatalf("toasts = %v", *toasts)
	}
}

func TestMarkReadSuccess(t *testing.T) {
	svc, _ := newNotifyService(ackOK(map[string]bool{"success": true}))
	svc.Store.Reset(notifyFixture(), -1)

	if err := svc.MarkRead(context.Background(), 3); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if svc.Store.Unread() != 1 {
		t.Fatalf("unread=%d, 期望 1", svc.Store.Unread())
	}
}

func TestMarkAllReadRollback(t *testing.T) {
	svc, _ := newNotifyService(ackFail(errors.New("down")))
	svc.Store.Reset(notifyFixture(), -1)

	if err := svc.MarkAllRead(context.Background()); err == nil {
		t.Fatal("MarkAllRead 应该失败")
	}
	if svc.Store.Unread() != 2 {
		t.Fatalf("回滚后 unread=%d, 期望 2", svc.Store.Unread())
	}
}

func TestDeleteNotificationRollback(t *testing.T) {
	svc, _ := newNotifyService(ackFail(errors.New("down")))
	svc.Store.Reset(notifyFixture(), -1)

	if err := svc.Delete(context.Background(), 1); err == nil {
		t.Fatal("Delete 应该失败")
	}
	if svc.Store.Len() != 3 {
		t.Fatalf("回滚后 len=%d, 期望 3", svc.Store.Len())
	}
}

func TestHandleUnreadCountOverridesLocal(t *testing.T) {
	svc, _ := newNotifyService(nil)
	svc.Store.Reset(notifyFixture(), -1)

	// 服务端权威值直接覆盖本地统计
	svc.HandleUnreadCount(message.UnreadCountPush{Count: 9})
	if svc.Store.Unread() != 9 {
		t.Fatalf("unread=%d, 期望 9", svc.Store.Unread())
	}
}

func TestHandleNewAndDeleted(t *testing.T) {
	svc, _ := newNotifyService(nil)
	svc.HandleNew(message.Notification{ID: 1, Title: "x"})
	svc.HandleNew(message.Notification{ID: 1, Title: "x"}) // 重复推送幂等
	if svc.Store.Len() != 1 || svc.Store.Unread() != 1 {
		t.Fatalf("len=%d unread=%d", svc.Store.Len(), svc.Store.Unread())
	}
	svc.HandleDeleted(message.NotifyDeletedPush{NotificationID: 1})
	if svc.Store.Len() != 0 || svc.Store.Unread() != 0 {
		t.Fatalf("删除后 len=%d unread=%d", svc.Store.Len(), svc.Store.Unread())
	}
}

func TestRefreshToastsOnFailure(t *testing.T) {
	svc, toasts := newNotifyService(nil)
	svc.API = api.NewClient("http://127.0.0.1:1", nil, func() string { return "t" })
	svc.Store.Reset(notifyFixture(), -1)

	if err := svc.Refresh(context.Background()); err == nil {
		t.Fatal("Refresh 应该失败")
	}
	if len(*toasts) != 1 {
		t.Fatalf("toasts = %v", *toasts)
	}
	// 失败不动现有状态
	if svc.Store.Len() != 3 {
		t.Fatalf("失败的 Refresh 改了 store: len=%d", svc.Store.Len())
	}
}
