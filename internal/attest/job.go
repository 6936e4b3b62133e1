package attest

import (
	"encoding/json"
	"time"

	xerrors "github.com/kuip/provable-sdk/internal/errors"
	"github.com/kuip/provable-sdk/pkg/digest"
)

// Job 是队列中传递的存证任务。任务只在投递期间存在，结果不落库。
type Job struct {
	ID          string           `json:"id"`
	Data        []byte           `json:"data"`
	Algorithm   digest.Algorithm `json:"algorithm"`
	Attempts    int              `json:"attempts"`
	MaxAttempts int              `json:"max_attempts"`
	EnqueuedAt  time.Time        `json:"enqueued_at"`
}

// Encode 将任务编码为队列负载。
func (j *Job) Encode() ([]byte, error) {
	payload, err := json.Marshal(j)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeJobValidation, err, "编码存证任务失败")
	}
	return payload, nil
}

// DecodeJob 解析队列负载并校验必填字段。
func DecodeJob(payload []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeJobValidation, err, "解析存证任务失败")
	}
	if job.ID == "" {
		return nil, xerrors.New(xerrors.CodeJobValidation, "存证任务缺少 ID")
	}
	if !job.Algorithm.Supported() {
		return nil, xerrors.New(xerrors.CodeJobValidation, "存证任务的摘要算法无效",
			xerrors.WithMetadata("job_id", job.ID),
			xerrors.WithMetadata("algorithm", string(job.Algorithm)))
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = 1
	}
	return &job, nil
}

// Exhausted 判断任务是否已用完重试次数。
func (j *Job) Exhausted() bool {
	return j.Attempts >= j.MaxAttempts
}
