package service

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cydxin/chat-client-sdk/api"
	"github.com/cydxin/chat-client-sdk/message"
)

// 上传任务状态
const (
	UploadStatusUploading = "uploading"
	UploadStatusSuccess   = "success"
	UploadStatusError     = "error"
)

const (
	// 终态任务在活跃列表里的保留时间
	defaultSuccessGrace = 2 * time.Second
	defaultErrorGrace   = 5 * time.Second
)

// UploadTask 上传任务对外快照。
type UploadTask struct {
	UploadID string
	FileName string
	Progress int // 0..100
	Status   string
	Error    string
}

type uploadTask struct {
	UploadTask
	cancel context.CancelFunc
	timer  *time.Timer // 终态过期定时器；提前移除必须 Stop，防止打到复用的 ID
}

// UploadService 并发文件上传跟踪：
// 每个上传一个任务项（uuid + 文件名保证会话内唯一），进度来自计数 reader；
// 终态在宽限期后自动出列，显式取消立即出列并中断传输。
type UploadService struct {
	*Service

	API *api.Client

	// 宽限期可调（测试用短窗口）
	SuccessGrace time.Duration
	ErrorGrace   time.Duration

	mu    sync.Mutex
	tasks map[string]*uploadTask
}

func NewUploadService(s *Service, apiClient *api.Client) *UploadService {
	return &UploadService{
		Service:      s,
		API:          apiClient,
		SuccessGrace: defaultSuccessGrace,
		ErrorGrace:   defaultErrorGrace,
		tasks:        make(map[string]*uploadTask),
	}
}

// UploadFile 上传一个文件，成功返回服务端创建的消息。
// size <= 0 时进度条不动，只有终态。错误同时落在任务状态和返回值上。
func (s *UploadService) UploadFile(ctx context.Context, roomID uint64, fileName string, body io.Reader, size int64, msgType, content string) (*message.Message, error) {
	if msgType == "" {
		msgType = message.TypeFile
	}
	uploadID := uuid.NewString() + "_" + fileName

	ctx, cancel := context.WithCancel(ctx)
	task := &uploadTask{
		UploadTask: UploadTask{
			UploadID: uploadID,
			FileName: fileName,
			Status:   UploadStatusUploading,
		},
		cancel: cancel,
	}
	s.mu.Lock()
	s.tasks[uploadID] = task
	s.mu.Unlock()

	reader := &progressReader{
		r:     body,
		total: size,
		onProgress: func(p int) {
			s.setProgress(uploadID, p)
		},
	}

	msg, err := s.API.Upload(ctx, api.UploadReq{
		RoomID:   roomID,
		Type:     msgType,
		Content:  content,
		FileName: fileName,
		Body:     reader,
	})
	cancel()
	if err != nil {
		s.finish(uploadID, UploadStatusError, err.Error(), s.ErrorGrace)
		return nil, err
	}
	s.finish(uploadID, UploadStatusSuccess, "", s.SuccessGrace)
	return msg, nil
}

// CancelUpload 按文件名取消活跃上传：中断传输、立即出列（不走宽限期）。
// 找到并取消返回 true。
func (s *UploadService) CancelUpload(fileName string) bool {
	s.mu.Lock()
	var found *uploadTask
	for _, t := range s.tasks {
		if t.FileName == fileName {
			found = t
			break
		}
	}
	if found == nil {
		s.mu.Unlock()
		return false
	}
	delete(s.tasks, found.UploadID)
	if found.timer != nil {
		found.timer.Stop()
	}
	s.mu.Unlock()

	found.cancel()
	s.logger().Info("upload cancelled", "upload_id", found.UploadID)
	return true
}

// Tasks 当前活跃任务快照（含宽限期内的终态任务）。
func (s *UploadService) Tasks() []UploadTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]UploadTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.UploadTask)
	}
	return out
}

// Task 按 uploadID 查询。
func (s *UploadService) Task(uploadID string) (UploadTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[uploadID]
	if !ok {
		return UploadTask{}, false
	}
	return t.UploadTask, true
}

// setProgress 已取消/已出列的任务直接忽略（迟到的进度回调不能把任务加回来）。
func (s *UploadService) setProgress(uploadID string, p int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[uploadID]
	if !ok || t.Status != UploadStatusUploading {
		return
	}
	if p > 100 {
		p = 100
	}
	t.Progress = p
}

// finish 任务进入终态并挂上过期定时器。已被取消出列的任务什么都不做。
func (s *UploadService) finish(uploadID, status, errMsg string, grace time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[uploadID]
	if !ok {
		return
	}
	t.Status = status
	t.Error = errMsg
	if status == UploadStatusSuccess {
		t.Progress = 100
	}
	t.timer = time.AfterFunc(grace, func() {
		s.mu.Lock()
		delete(s.tasks, uploadID)
		s.mu.Unlock()
	})
}

// progressReader 读多少算多少，按 total 换算百分比。
type progressReader struct {
	r          io.Reader
	total      int64
	read       int64
	last       int
	onProgress func(p int)
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	if n > 0 && pr.total > 0 {
		pr.read += int64(n)
		pct := int(pr.read * 100 / pr.total)
		if pct > 100 {
			pct = 100
		}
		if pct != pr.last {
			pr.last = pct
			pr.onProgress(pct)
		}
	}
	return n, err
}
