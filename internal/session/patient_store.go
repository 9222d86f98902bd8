package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"medichat-go/internal/model"
	"medichat-go/pkg/kvstore"
	"medichat-go/pkg/log"
)

// ErrPatientNotFound 表示目标病人不在档案目录中。
var ErrPatientNotFound = errors.New("病人档案不存在")

// ErrNoPendingSwitch 表示当前没有等待确认的病人切换。
var ErrNoPendingSwitch = errors.New("没有等待确认的病人切换")

// ValidationErrors 是按字段返回的校验错误集合。
type ValidationErrors map[string]string

// CreatePatientInput 是创建病人档案的入参。Age 用指针区分"未填写"与 0。
type CreatePatientInput struct {
	FullName string `json:"fullName"`
	Age      *int   `json:"age"`
	Sex      string `json:"sex"`
	Note     string `json:"note"`
}

// PendingSwitch 记录一次等待用户确认的病人上下文切换。
// NewlyCreated 标记切换目标是否为刚创建的档案（前端据此措辞）。
type PendingSwitch struct {
	PatientID    string `json:"patientId"`
	NewlyCreated bool   `json:"newlyCreated"`
}

// PatientStore 持有一个用户的病人档案目录、当前选中与激活的病人。
// "选中"与"激活"是两个独立状态：选中只是加载了档案，
// 只有经确认流程激活后，该病人才成为会话上下文。
// 任何改变激活指针的路径（切换确认、去激活、删除激活中的档案）都会通知观察者。
type PatientStore struct {
	mu     sync.Mutex
	store  kvstore.Store
	userID uint

	catalogue []model.PatientRecord
	activeID  string
	selected  *model.PatientRecord
	pending   *PendingSwitch

	observers []func(activePatientID string)
}

// NewPatientStore 创建并从 KV 存储加载一个用户的病人会话状态。
// 加载时若激活指针指向已不存在的档案，指针会被修复清空。
func NewPatientStore(store kvstore.Store, userID uint) *PatientStore {
	s := &PatientStore{store: store, userID: userID}
	s.loadCatalogue()

	ctx := context.Background()
	if id, ok := store.Get(ctx, s.activeKey()); ok && id != "" {
		if s.findLocked(id) != nil {
			s.activeID = id
		} else {
			log.Warnf("用户 %d 的激活病人 %s 已不在目录中，指针已清空", userID, id)
			store.Remove(ctx, s.activeKey())
		}
	}
	if raw, ok := store.Get(ctx, s.selectedKey()); ok {
		var rec model.PatientRecord
		if err := json.Unmarshal([]byte(raw), &rec); err == nil {
			s.selected = &rec
		}
	}
	return s
}

func (s *PatientStore) catalogueKey() string {
	return fmt.Sprintf("user:%d:patients", s.userID)
}

func (s *PatientStore) activeKey() string {
	return fmt.Sprintf("user:%d:active_patient", s.userID)
}

func (s *PatientStore) selectedKey() string {
	return fmt.Sprintf("user:%d:selected_patient", s.userID)
}

func (s *PatientStore) loadCatalogue() {
	raw, ok := s.store.Get(context.Background(), s.catalogueKey())
	if !ok {
		return
	}
	var catalogue []model.PatientRecord
	if err := json.Unmarshal([]byte(raw), &catalogue); err != nil {
		log.Warnf("加载用户 %d 的病人目录失败，按空目录处理: %v", s.userID, err)
		return
	}
	s.catalogue = catalogue
}

// persistCatalogue 在持锁状态下调用。
func (s *PatientStore) persistCatalogue() {
	data, err := json.Marshal(s.catalogue)
	if err != nil {
		log.Errorf("序列化用户 %d 的病人目录失败: %v", s.userID, err)
		return
	}
	s.store.Set(context.Background(), s.catalogueKey(), string(data))
}

// persistSelected 在持锁状态下调用，写入选中档案的反规范化快照。
func (s *PatientStore) persistSelected() {
	ctx := context.Background()
	if s.selected == nil {
		s.store.Remove(ctx, s.selectedKey())
		return
	}
	data, err := json.Marshal(s.selected)
	if err != nil {
		log.Errorf("序列化用户 %d 的选中病人失败: %v", s.userID, err)
		return
	}
	s.store.Set(ctx, s.selectedKey(), string(data))
}

func (s *PatientStore) findLocked(id string) *model.PatientRecord {
	for i := range s.catalogue {
		if s.catalogue[i].ID == id {
			return &s.catalogue[i]
		}
	}
	return nil
}

// OnActiveChange 注册激活指针变化的观察者。回调在锁外执行。
func (s *PatientStore) OnActiveChange(fn func(activePatientID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

func (s *PatientStore) notify(activeID string) {
	s.mu.Lock()
	observers := make([]func(string), len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()
	for _, fn := range observers {
		fn(activeID)
	}
}

// Refresh 从存储重新加载档案目录。幂等，可在每次列表渲染前调用；
// 不会动到 selected 与激活指针。
func (s *PatientStore) Refresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadCatalogue()
}

// Catalogue 返回档案目录的副本。
func (s *PatientStore) Catalogue() []model.PatientRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.PatientRecord, len(s.catalogue))
	copy(out, s.catalogue)
	return out
}

// ActivePatientID 返回当前会话上下文的病人 id，未激活时为空字符串。
func (s *PatientStore) ActivePatientID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// IsContextActive 报告当前会话是否携带病人上下文（activeID 非空的派生值）。
func (s *PatientStore) IsContextActive() bool {
	return s.ActivePatientID() != ""
}

// ActivePatient 返回激活病人的档案副本，未激活时为 nil。
func (s *PatientStore) ActivePatient() *model.PatientRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeID == "" {
		return nil
	}
	if rec := s.findLocked(s.activeID); rec != nil {
		cp := *rec
		return &cp
	}
	return nil
}

// Selected 返回当前选中（未必激活）的病人档案副本。
func (s *PatientStore) Selected() *model.PatientRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == nil {
		return nil
	}
	cp := *s.selected
	return &cp
}

// PendingConfirmation 返回等待确认的切换，无则为 nil。
func (s *PatientStore) PendingConfirmation() *PendingSwitch {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return nil
	}
	cp := *s.pending
	return &cp
}

// Create 校验并创建一份病人档案。校验失败时返回按字段的错误集合且不做任何变更。
// 创建本身不会激活会话上下文，是否使用新档案由调用方走确认流程决定。
func (s *PatientStore) Create(input CreatePatientInput) (*model.PatientRecord, ValidationErrors) {
	errs := ValidationErrors{}
	if strings.TrimSpace(input.FullName) == "" {
		errs["name"] = "姓名不能为空"
	}
	if input.Age == nil {
		errs["age"] = "年龄不能为空"
	}
	if strings.TrimSpace(input.Sex) == "" {
		errs["sex"] = "性别不能为空"
	}
	if len(errs) > 0 {
		return nil, errs
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	rec := model.PatientRecord{
		ID:                fmt.Sprintf("patient-%d", now.UnixNano()),
		FullName:          strings.TrimSpace(input.FullName),
		Age:               *input.Age,
		Sex:               input.Sex,
		ChronicConditions: []model.ChronicCondition{},
		Medications:       []model.Medication{},
		Allergies:         []model.Allergy{},
		PastEvents:        []model.PastEvent{},
		Attachments:       []model.FileDescriptor{},
		Note:              input.Note,
		CreatedAt:         now,
		LastUpdated:       now,
	}
	s.catalogue = append(s.catalogue, rec)
	s.persistCatalogue()
	cp := rec
	return &cp, nil
}

// Select 将目录中的档案载入为选中病人。选中不激活会话上下文。
// id 不存在时仅记录警告，不做任何变更。
func (s *PatientStore) Select(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.findLocked(id)
	if rec == nil {
		log.Warnf("用户 %d 选择了不存在的病人: %s", s.userID, id)
		return
	}
	cp := *rec
	s.selected = &cp
	s.persistSelected()
}

// RequestSwitch 发起一次需要确认的病人上下文切换。
// 所有改变激活病人的 UI 路径（在两个病人间切换、启用新建档案）都必须经过这里。
func (s *PatientStore) RequestSwitch(id string, newlyCreated bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findLocked(id) == nil {
		return ErrPatientNotFound
	}
	s.pending = &PendingSwitch{PatientID: id, NewlyCreated: newlyCreated}
	return nil
}

// ConfirmSwitch 确认等待中的切换并激活目标病人。
func (s *PatientStore) ConfirmSwitch() error {
	s.mu.Lock()
	if s.pending == nil {
		s.mu.Unlock()
		return ErrNoPendingSwitch
	}
	id := s.pending.PatientID
	s.pending = nil
	changed, err := s.activateLocked(id)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if changed {
		s.notify(id)
	}
	return nil
}

// CancelSwitch 放弃等待中的切换，回到原状态。
func (s *PatientStore) CancelSwitch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
}

// Activate 直接激活指定病人（不经确认，供恢复会话等内部路径使用）。
func (s *PatientStore) Activate(id string) error {
	s.mu.Lock()
	changed, err := s.activateLocked(id)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if changed {
		s.notify(id)
	}
	return nil
}

// activateLocked 在持锁状态下执行激活，返回指针是否发生了变化。
func (s *PatientStore) activateLocked(id string) (bool, error) {
	rec := s.findLocked(id)
	if rec == nil {
		return false, ErrPatientNotFound
	}
	changed := s.activeID != id
	s.activeID = id
	cp := *rec
	s.selected = &cp
	s.store.Set(context.Background(), s.activeKey(), id)
	s.persistSelected()
	return changed, nil
}

// Deactivate 解除病人上下文（无需确认），同时清空选中病人。
func (s *PatientStore) Deactivate() {
	s.mu.Lock()
	changed := s.activeID != ""
	s.activeID = ""
	s.selected = nil
	ctx := context.Background()
	s.store.Remove(ctx, s.activeKey())
	s.store.Remove(ctx, s.selectedKey())
	s.mu.Unlock()
	if changed {
		s.notify("")
	}
}

// Update 按 id 更新档案，mutate 在持锁状态下对目录内的记录就地修改。
// 每次更新都会刷新 LastUpdated，并同步选中快照。
func (s *PatientStore) Update(id string, mutate func(*model.PatientRecord)) error {
	s.mu.Lock()
	rec := s.findLocked(id)
	if rec == nil {
		s.mu.Unlock()
		return ErrPatientNotFound
	}
	mutate(rec)
	rec.LastUpdated = time.Now()
	if s.selected != nil && s.selected.ID == id {
		cp := *rec
		s.selected = &cp
		s.persistSelected()
	}
	s.persistCatalogue()
	s.mu.Unlock()
	return nil
}

// AppendNote 在档案的自由文本备注后追加一段内容。
func (s *PatientStore) AppendNote(id, text string) error {
	return s.Update(id, func(rec *model.PatientRecord) {
		if rec.Note == "" {
			rec.Note = text
			return
		}
		rec.Note = rec.Note + "\n" + text
	})
}

// AttachFile 向档案追加一份已上传文档的描述符。
func (s *PatientStore) AttachFile(id string, desc model.FileDescriptor) error {
	return s.Update(id, func(rec *model.PatientRecord) {
		rec.Attachments = append(rec.Attachments, desc)
	})
}

// Delete 从目录中删除档案并落盘。若被删除的正是激活病人，
// 在同一次持锁操作内一并去激活并清空选中，绝不留下悬空指针。
func (s *PatientStore) Delete(id string) error {
	s.mu.Lock()
	idx := -1
	for i := range s.catalogue {
		if s.catalogue[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return ErrPatientNotFound
	}

	s.catalogue = append(s.catalogue[:idx], s.catalogue[idx+1:]...)
	wasActive := s.activeID == id
	ctx := context.Background()
	if wasActive {
		s.activeID = ""
		s.selected = nil
		s.store.Remove(ctx, s.activeKey())
		s.store.Remove(ctx, s.selectedKey())
	} else if s.selected != nil && s.selected.ID == id {
		s.selected = nil
		s.store.Remove(ctx, s.selectedKey())
	}
	s.persistCatalogue()
	s.mu.Unlock()

	if wasActive {
		s.notify("")
	}
	return nil
}

// Reset 丢弃全部内存状态，登出时调用。
func (s *PatientStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalogue = nil
	s.activeID = ""
	s.selected = nil
	s.pending = nil
	s.observers = nil
}
