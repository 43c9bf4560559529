package repository

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/cydxin/chat-client-sdk/message"
)

func TestSaveMessagesBatchInsert(t *testing.T) {
	db, mock, sqldb := newMockDB(t)
	defer func() { _ = sqldb.Close() }()

	dao := NewArchiveDAO(db)

	// OnConflict DoNothing -> INSERT IGNORE 风格的单条批量插入
	mock.ExpectExec("INSERT INTO `imc_message_archive`").
		WillReturnResult(sqlmock.NewResult(1, 2))

	msgs := []message.Message{
		{ID: 1, RoomID: 10, SenderID: 2, Type: message.TypeText, Content: "a", CreatedAt: time.Now()},
		{ID: 2, RoomID: 10, SenderID: 3, Type: message.TypeText, Content: "b", ReadBy: []uint64{2}, CreatedAt: time.Now()},
	}
	if err := dao.SaveMessages(msgs); err != nil {
		t.Fatalf("SaveMessages: %v", err)
	}

	// 空批次不应该碰数据库
	if err := dao.SaveMessages(nil); err != nil {
		t.Fatalf("SaveMessages(nil): %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

func TestFindByRoomIDNewestFirst(t *testing.T) {
	db, mock, sqldb := newMockDB(t)
	defer func() { _ = sqldb.Close() }()

	dao := NewArchiveDAO(db)
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"id", "message_id", "room_id", "sender_id", "type", "content",
		"file_url", "read_by", "is_edited", "is_deleted", "created_at", "archived_at",
	}).
		AddRow(uint64(2), uint64(20), uint64(10), uint64(3), "text", "newer", "", []byte(`[1,2]`), false, false, now, now).
		AddRow(uint64(1), uint64(19), uint64(10), uint64(2), "text", "older", "", nil, true, false, now.Add(-time.Minute), now)

	// 和服务端分页同一约定：created_at 倒序、过滤已删除
	mock.ExpectQuery("SELECT \\* FROM `imc_message_archive` WHERE room_id = \\? AND is_deleted = \\? ORDER BY created_at DESC LIMIT \\?").
		WithArgs(uint64(10), false, 50).
		WillReturnRows(rows)

	got, err := dao.FindByRoomID(10, 50, 0)
	if err != nil {
		t.Fatalf("FindByRoomID: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, 期望 2", len(got))
	}
	if got[0].ID != 20 || got[0].Content != "newer" {
		t.Fatalf("第一条 = %+v, 期望最新的在前", got[0])
	}
	if len(got[0].ReadBy) != 2 || got[0].ReadBy[0] != 1 {
		t.Fatalf("ReadBy 反序列化 = %v", got[0].ReadBy)
	}
	if !got[1].IsEdited {
		t.Fatal("is_edited 没带回来")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

func TestMarkDeletedAndUpdateContent(t *testing.T) {
	db, mock, sqldb := newMockDB(t)
	defer func() { _ = sqldb.Close() }()

	dao := NewArchiveDAO(db)

	mock.ExpectExec("UPDATE `imc_message_archive` SET .* WHERE message_id = \\?").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := dao.MarkDeleted(7); err != nil {
		t.Fatalf("MarkDeleted: %v", err)
	}

	mock.ExpectExec("UPDATE `imc_message_archive` SET .* WHERE message_id = \\?").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := dao.UpdateContent(7, "edited"); err != nil {
		t.Fatalf("UpdateContent: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

func TestMergeCursorCreatesWhenMissing(t *testing.T) {
	db, mock, sqldb := newMockDB(t)
	defer func() { _ = sqldb.Close() }()

	dao := NewArchiveDAO(db)

	mock.ExpectQuery("SELECT \\* FROM `imc_room_cursor` WHERE user_id = \\? AND room_id = \\?").
		WithArgs(uint64(1), uint64(10), 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec("INSERT INTO `imc_room_cursor`").
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := dao.MergeCursor(1, 10, 99); err != nil {
		t.Fatalf("MergeCursor: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

func TestMergeCursorGreaterWins(t *testing.T) {
	db, mock, sqldb := newMockDB(t)
	defer func() { _ = sqldb.Close() }()

	dao := NewArchiveDAO(db)

	mock.ExpectQuery("SELECT \\* FROM `imc_room_cursor` WHERE user_id = \\? AND room_id = \\?").
		WithArgs(uint64(1), uint64(10), 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "room_id", "last_read_msg_id", "updated_at"}).
			AddRow(uint64(5), uint64(1), uint64(10), uint64(120), time.Now()))
	// 推进用 CASE WHEN 在 SQL 里比较，乱序回执不会把游标拉回去
	mock.ExpectExec("UPDATE `imc_room_cursor` SET .*CASE WHEN last_read_msg_id < \\? THEN \\? ELSE last_read_msg_id END.* WHERE user_id = \\? AND room_id = \\?").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := dao.MergeCursor(1, 10, 99); err != nil {
		t.Fatalf("MergeCursor: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

func TestMergeCursorSkipsZeroIDs(t *testing.T) {
	db, mock, sqldb := newMockDB(t)
	defer func() { _ = sqldb.Close() }()

	dao := NewArchiveDAO(db)

	// 任一 ID 为 0 都不应该发 SQL
	if err := dao.MergeCursor(0, 10, 99); err != nil {
		t.Fatalf("MergeCursor: %v", err)
	}
	if err := dao.MergeCursor(1, 10, 0); err != nil {
		t.Fatalf("MergeCursor: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

func TestCursorMissingReturnsZero(t *testing.T) {
	db, mock, sqldb := newMockDB(t)
	defer func() { _ = sqldb.Close() }()

	dao := NewArchiveDAO(db)

	mock.ExpectQuery("SELECT \\* FROM `imc_room_cursor` WHERE user_id = \\? AND room_id = \\?").
		WithArgs(uint64(1), uint64(10), 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	got, err := dao.Cursor(1, 10)
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	if got != 0 {
		t.Fatalf("Cursor = %d, 期望 0", got)
	}
}
