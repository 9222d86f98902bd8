package model

import "time"

// ChronicCondition 代表病历快照中的一条慢性病记录。
type ChronicCondition struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Since string `json:"since,omitempty"`
}

// Medication 代表病历快照中的一条用药记录。
type Medication struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Dosage    string `json:"dosage,omitempty"`
	Frequency string `json:"frequency,omitempty"`
}

// Allergy 代表病历快照中的一条过敏记录。
type Allergy struct {
	ID        string `json:"id"`
	Substance string `json:"substance"`
	Reaction  string `json:"reaction,omitempty"`
	Severity  string `json:"severity,omitempty"`
}

// PastEvent 代表病历快照中的一条既往重要事件。
type PastEvent struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Date        string `json:"date,omitempty"`
}

// FileDescriptor 描述一份已上传到对象存储的病人上下文文档。
type FileDescriptor struct {
	ID            string    `json:"id"`
	FileName      string    `json:"fileName"`
	ObjectKey     string    `json:"objectKey"`
	Size          int64     `json:"size"`
	ContentType   string    `json:"contentType,omitempty"`
	ExtractedText string    `json:"extractedText,omitempty"`
	UploadedAt    time.Time `json:"uploadedAt"`
}

// PatientRecord 代表一份完整的病人档案。
// 档案仅由 PatientStore 持有，所有修改都经过按 id 的更新操作并刷新 LastUpdated。
type PatientRecord struct {
	ID string `json:"id"`
	// 人口学信息
	FullName string `json:"fullName"`
	Age      int    `json:"age"`
	Sex      string `json:"sex"`
	// 结构化快照，列表内 id 唯一，保持插入顺序
	ChronicConditions []ChronicCondition `json:"chronicConditions"`
	Medications       []Medication       `json:"medications"`
	Allergies         []Allergy          `json:"allergies"`
	PastEvents        []PastEvent        `json:"pastEvents"`
	// 非结构化上下文
	Attachments []FileDescriptor `json:"attachments"`
	Note        string           `json:"note"`

	CreatedAt   time.Time `json:"createdAt"`
	LastUpdated time.Time `json:"lastUpdated"`
}
