package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"sms-forwarder/internal/config"

	_ "github.com/go-sql-driver/mysql"
)

// 表名常量
const (
	TableForwardRules = "forward_rules"
	TableSMSMessages  = "sms_messages"
)

// SQL 建表语句常量
// 使用 InnoDB 引擎支持事务,utf8mb4 支持完整 Unicode 字符集
const (
	// createForwardRulesTableSQL 转发规则表
	createForwardRulesTableSQL = `
		CREATE TABLE IF NOT EXISTS forward_rules (
			id BIGINT AUTO_INCREMENT PRIMARY KEY COMMENT '规则ID',
			name VARCHAR(128) NOT NULL COMMENT '规则名称',
			source_number_pattern VARCHAR(64) NOT NULL DEFAULT '' COMMENT '发件人通配模式',
			keyword_list TEXT COMMENT '逗号分隔关键字',
			channel_name VARCHAR(64) NOT NULL COMMENT '推送通道名称',
			channel_config JSON COMMENT '通道配置',
			enabled BOOLEAN NOT NULL DEFAULT TRUE COMMENT '是否启用',
			is_default_forward BOOLEAN NOT NULL DEFAULT FALSE COMMENT '是否无条件转发',
			sort_order INT NOT NULL DEFAULT 0 COMMENT '匹配顺序',
			created_at BIGINT NOT NULL COMMENT '创建时间戳',
			INDEX idx_enabled_order (enabled, sort_order)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
		COMMENT='短信转发规则表'
	`

	// createSMSMessagesTableSQL 短信记录表
	// 记录每条完成接收的短信及其转发结局,供运维查询历史
	createSMSMessagesTableSQL = `
		CREATE TABLE IF NOT EXISTS sms_messages (
			id BIGINT AUTO_INCREMENT PRIMARY KEY COMMENT '记录ID',
			sender VARCHAR(64) NOT NULL COMMENT '发件人号码',
			content TEXT COMMENT '短信内容',
			received_at VARCHAR(16) COMMENT '原始接收时间戳',
			forward_status VARCHAR(64) NOT NULL DEFAULT 'received' COMMENT '转发状态',
			forwarded_at BIGINT NOT NULL DEFAULT 0 COMMENT '转发完成时间戳',
			created_at BIGINT NOT NULL COMMENT '创建时间戳',
			INDEX idx_sender (sender),
			INDEX idx_created_at (created_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
		COMMENT='短信接收与转发记录表'
	`
)

// MySQLStore 基于 MySQL 的规则与短信记录存储
// 多个逻辑调用方(转发结局写入、规则管理接口)可能并发调用,
// 写操作由实例内的互斥锁串行化
type MySQLStore struct {
	db      *sql.DB
	writeMu sync.Mutex
	now     func() time.Time
}

// NewMySQLStore 创建 MySQL 存储
// 自动配置连接池参数、测试连接可用性并初始化表结构
func NewMySQLStore(mysqlConfig config.MySQLConfig) (*MySQLStore, error) {
	db, err := sql.Open("mysql", mysqlConfig.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql connection: %w", err)
	}

	db.SetMaxOpenConns(mysqlConfig.MaxOpenConns)
	db.SetMaxIdleConns(mysqlConfig.MaxIdleConns)
	db.SetConnMaxLifetime(mysqlConfig.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &MySQLStore{db: db, now: time.Now}
	if err := s.initTables(); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("[MYSQL] 数据库连接成功")
	return s, nil
}

// initTables 初始化表结构(幂等)
func (s *MySQLStore) initTables() error {
	for _, stmt := range []string{createForwardRulesTableSQL, createSMSMessagesTableSQL} {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// Close 关闭数据库连接
func (s *MySQLStore) Close() error {
	return s.db.Close()
}

//
// ========== 规则 CRUD ==========
//

const ruleColumns = `id, name, source_number_pattern, keyword_list, channel_name,
	channel_config, enabled, is_default_forward, sort_order`

// scanRule 从一行结果扫描出 Rule
func scanRule(rows *sql.Rows) (Rule, error) {
	var rule Rule
	var keywordList, channelConfig sql.NullString
	err := rows.Scan(
		&rule.ID, &rule.Name, &rule.SourceNumberPattern, &keywordList,
		&rule.ChannelName, &channelConfig, &rule.Enabled,
		&rule.IsDefaultForward, &rule.SortOrder,
	)
	rule.KeywordList = keywordList.String
	rule.ChannelConfig = channelConfig.String
	return rule, err
}

// queryRules 按给定条件查询规则列表
func (s *MySQLStore) queryRules(ctx context.Context, query string, args ...any) ([]Rule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// GetEnabledRules 返回全部启用规则,按存储顺序排列
func (s *MySQLStore) GetEnabledRules(ctx context.Context) ([]Rule, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE enabled = TRUE ORDER BY sort_order, id",
		ruleColumns, TableForwardRules,
	)
	return s.queryRules(ctx, query)
}

// ListRules 返回全部规则
func (s *MySQLStore) ListRules(ctx context.Context) ([]Rule, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM %s ORDER BY sort_order, id",
		ruleColumns, TableForwardRules,
	)
	return s.queryRules(ctx, query)
}

// GetRuleByID 按 ID 查询规则,不存在时返回 nil
func (s *MySQLStore) GetRuleByID(ctx context.Context, id int64) (*Rule, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE id = ?",
		ruleColumns, TableForwardRules,
	)
	rules, err := s.queryRules(ctx, query, id)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, nil
	}
	return &rules[0], nil
}

// AddRule 新增规则,返回自增 ID
func (s *MySQLStore) AddRule(ctx context.Context, rule Rule) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := fmt.Sprintf(`
		INSERT INTO %s (name, source_number_pattern, keyword_list, channel_name,
			channel_config, enabled, is_default_forward, sort_order, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, TableForwardRules)

	result, err := s.db.ExecContext(ctx, query,
		rule.Name, rule.SourceNumberPattern, rule.KeywordList, rule.ChannelName,
		nullableJSON(rule.ChannelConfig), rule.Enabled, rule.IsDefaultForward,
		rule.SortOrder, s.now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert rule: %w", err)
	}
	return result.LastInsertId()
}

// UpdateRule 按 ID 整体更新规则
func (s *MySQLStore) UpdateRule(ctx context.Context, rule Rule) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := fmt.Sprintf(`
		UPDATE %s SET name = ?, source_number_pattern = ?, keyword_list = ?,
			channel_name = ?, channel_config = ?, enabled = ?,
			is_default_forward = ?, sort_order = ?
		WHERE id = ?`, TableForwardRules)

	result, err := s.db.ExecContext(ctx, query,
		rule.Name, rule.SourceNumberPattern, rule.KeywordList, rule.ChannelName,
		nullableJSON(rule.ChannelConfig), rule.Enabled, rule.IsDefaultForward,
		rule.SortOrder, rule.ID,
	)
	if err != nil {
		return false, fmt.Errorf("update rule: %w", err)
	}
	return affectedAny(result)
}

// DeleteRule 按 ID 删除规则
func (s *MySQLStore) DeleteRule(ctx context.Context, id int64) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", TableForwardRules)
	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("delete rule: %w", err)
	}
	return affectedAny(result)
}

// SetRuleEnabled 启用/停用规则
func (s *MySQLStore) SetRuleEnabled(ctx context.Context, id int64, enabled bool) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := fmt.Sprintf("UPDATE %s SET enabled = ? WHERE id = ?", TableForwardRules)
	result, err := s.db.ExecContext(ctx, query, enabled, id)
	if err != nil {
		return false, fmt.Errorf("set rule enabled: %w", err)
	}
	return affectedAny(result)
}

//
// ========== 短信记录 ==========
//

// AddMessageRecord 新增短信记录,返回自增 ID
func (s *MySQLStore) AddMessageRecord(ctx context.Context, record MessageRecord) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := fmt.Sprintf(`
		INSERT INTO %s (sender, content, received_at, forward_status, forwarded_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`, TableSMSMessages)

	status := record.ForwardStatus
	if status == "" {
		status = "received"
	}

	result, err := s.db.ExecContext(ctx, query,
		record.Sender, record.Content, record.ReceivedAt,
		status, record.ForwardedAt, s.now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert message record: %w", err)
	}
	return result.LastInsertId()
}

// UpdateMessageRecord 更新短信记录的转发状态
func (s *MySQLStore) UpdateMessageRecord(ctx context.Context, record MessageRecord) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := fmt.Sprintf(
		"UPDATE %s SET forward_status = ?, forwarded_at = ? WHERE id = ?",
		TableSMSMessages,
	)
	result, err := s.db.ExecContext(ctx, query,
		record.ForwardStatus, record.ForwardedAt, record.ID,
	)
	if err != nil {
		return false, fmt.Errorf("update message record: %w", err)
	}
	return affectedAny(result)
}

// GetRecordByID 按 ID 查询短信记录,不存在时返回 nil
func (s *MySQLStore) GetRecordByID(ctx context.Context, id int64) (*MessageRecord, error) {
	query := fmt.Sprintf(`
		SELECT id, sender, content, received_at, forward_status, forwarded_at, created_at
		FROM %s WHERE id = ?`, TableSMSMessages)

	records, err := s.queryRecords(ctx, query, id)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// ListRecords 按时间倒序返回最近的短信记录
func (s *MySQLStore) ListRecords(ctx context.Context, limit int64) ([]MessageRecord, error) {
	query := fmt.Sprintf(`
		SELECT id, sender, content, received_at, forward_status, forwarded_at, created_at
		FROM %s ORDER BY id DESC LIMIT ?`, TableSMSMessages)
	return s.queryRecords(ctx, query, limit)
}

// queryRecords 按给定条件查询短信记录列表
func (s *MySQLStore) queryRecords(ctx context.Context, query string, args ...any) ([]MessageRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []MessageRecord
	for rows.Next() {
		var record MessageRecord
		var content, receivedAt sql.NullString
		if err := rows.Scan(
			&record.ID, &record.Sender, &content, &receivedAt,
			&record.ForwardStatus, &record.ForwardedAt, &record.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		record.Content = content.String
		record.ReceivedAt = receivedAt.String
		records = append(records, record)
	}
	return records, rows.Err()
}

// Trim 删除超出保留上限的最老记录,返回删除条数
func (s *MySQLStore) Trim(ctx context.Context, maxKeep int64) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := fmt.Sprintf(`
		DELETE FROM %s WHERE id <= (
			SELECT cutoff FROM (
				SELECT MAX(id) - ? AS cutoff FROM %s
			) AS t
		)`, TableSMSMessages, TableSMSMessages)

	result, err := s.db.ExecContext(ctx, query, maxKeep)
	if err != nil {
		return 0, fmt.Errorf("trim records: %w", err)
	}
	return result.RowsAffected()
}

//
// ========== 工具函数 ==========
//

// nullableJSON 空串转为 NULL,避免写入非法 JSON
func nullableJSON(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// affectedAny 判断执行结果是否影响了至少一行
func affectedAny(result sql.Result) (bool, error) {
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
