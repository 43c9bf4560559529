package service

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cydxin/chat-client-sdk/api"
	"github.com/cydxin/chat-client-sdk/message"
	"github.com/cydxin/chat-client-sdk/mockserver"
)

func newUploadService(t *testing.T) (*UploadService, *mockserver.Server) {
	t.Helper()
	srv := mockserver.NewServer()
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	uid := srv.AddUser("alice", "pw123456")
	token := srv.TokenFor(uid)

	toasts := &[]string{}
	base := stubBase(toasts)
	svc := NewUploadService(base, api.NewClient(ts.URL, nil, func() string { return token }))
	svc.SuccessGrace = 50 * time.Millisecond
	svc.ErrorGrace = 50 * time.Millisecond
	return svc, srv
}

func waitCond(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("等待超时: %s", what)
}

func TestUploadSuccessLifecycle(t *testing.T) {
	svc, _ := newUploadService(t)

	body := strings.NewReader("content-bytes")
	msg, err := svc.UploadFile(context.Background(), 1, "a.pdf", body, int64(body.Len()), "", "")
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if msg.FileURL != "/files/a.pdf" || msg.Type != message.TypeFile {
		t.Fatalf("上传消息 = %+v", msg)
	}

	tasks := svc.Tasks()
	if len(tasks) != 1 {
		t.Fatalf("宽限期内任务数 = %d, 期望 1", len(tasks))
	}
	if tasks[0].Status != UploadStatusSuccess || tasks[0].Progress != 100 {
		t.Fatalf("终态任务 = %+v", tasks[0])
	}

	// 宽限期过后自动出列
	waitCond(t, time.Second, "成功任务过期出列", func() bool {
		return len(svc.Tasks()) == 0
	})
}

func TestUploadErrorLifecycle(t *testing.T) {
	toasts := &[]string{}
	base := stubBase(toasts)
	svc := NewUploadService(base, api.NewClient("http://127.0.0.1:1", nil, func() string { return "t" }))
	svc.ErrorGrace = 50 * time.Millisecond

	_, err := svc.UploadFile(context.Background(), 1, "b.pdf", strings.NewReader("x"), 1, "", "")
	if err == nil {
		t.Fatal("UploadFile 应该失败")
	}

	tasks := svc.Tasks()
	if len(tasks) != 1 || tasks[0].Status != UploadStatusError || tasks[0].Error == "" {
		t.Fatalf("失败任务 = %+v", tasks)
	}
	waitCond(t, time.Second, "失败任务过期出列", func() bool {
		return len(svc.Tasks()) == 0
	})
}

// blockingReader 第一次 Read 卡住，直到 ctx 取消。
type blockingReader struct {
	unblock chan struct{}
}

func (r *blockingReader) Read([]byte) (int, error) {
	<-r.unblock
	return 0, io.EOF
}

func TestCancelUploadInterruptsAndRemoves(t *testing.T) {
	svc, _ := newUploadService(t)

	reader := &blockingReader{unblock: make(chan struct{})}
	defer close(reader.unblock)

	done := make(chan error, 1)
	go func() {
		_, err := svc.UploadFile(context.Background(), 1, "big.zip", reader, 1000, "", "")
		done <- err
	}()

	waitCond(t, time.Second, "任务进入活跃列表", func() bool {
		return len(svc.Tasks()) == 1
	})

	if !svc.CancelUpload("big.zip") {
		t.Fatal("CancelUpload 应该找到任务")
	}
	// 取消立即出列，不走宽限期
	if n := len(svc.Tasks()); n != 0 {
		t.Fatalf("取消后任务数 = %d, 期望 0", n)
	}

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("被取消的上传应该返回错误")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("取消没有中断传输")
	}

	// 迟到的进度回调不能把任务加回来
	if len(svc.Tasks()) != 0 {
		t.Fatal("取消后任务又回来了")
	}
}

func TestCancelUploadUnknownFile(t *testing.T) {
	svc, _ := newUploadService(t)
	if svc.CancelUpload("nope.txt") {
		t.Fatal("不存在的文件名应该返回 false")
	}
}

func TestProgressReaderPercent(t *testing.T) {
	var got []int
	pr := &progressReader{
		r:          strings.NewReader(strings.Repeat("a", 100)),
		total:      100,
		onProgress: func(p int) { got = append(got, p) },
	}
	buf := make([]byte, 25)
	for {
		if _, err := pr.Read(buf); err != nil {
			break
		}
	}
	want := []int{25, 50, 75, 100}
	if len(got) != len(want) {
		t.Fatalf("进度序列 = %v, 期望 %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("进度序列 = %v, 期望 %v", got, want)
		}
	}
}

func TestProgressReaderUnknownTotal(t *testing.T) {
	called := false
	pr := &progressReader{
		r:          strings.NewReader("abc"),
		total:      0,
		onProgress: func(int) { called = true },
	}
	buf := make([]byte, 8)
	for {
		if _, err := pr.Read(buf); err != nil {
			break
		}
	}
	if called {
		t.Fatal("未知大小不应该有进度回调")
	}
}
