package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dushixiang/nodeman/internal/models"
)

// fakeService 测试用原子步骤
type fakeService struct {
	BaseService
	name       string
	executed   int
	scheduled  int
	needPoll   bool
	doneAfter  int
	executeErr error
}

func (s *fakeService) Name() string { return s.name }

func (s *fakeService) Execute(ctx context.Context, data *Data) error {
	s.executed++
	return s.executeErr
}

func (s *fakeService) NeedSchedule() bool { return s.needPoll }

func (s *fakeService) Schedule(ctx context.Context, data *Data) (bool, error) {
	s.scheduled++
	return s.scheduled >= s.doneAfter, nil
}

func newTestData(ids ...string) *Data {
	instances := make([]models.SubscriptionInstance, 0, len(ids))
	for _, id := range ids {
		instances = append(instances, models.SubscriptionInstance{ID: id})
	}
	return &Data{
		SubscriptionID: 1,
		Instances:      instances,
		Tracker:        NewTracker(ids, &memoryLogWriter{}, zap.NewNop()),
		Outputs:        map[string]interface{}{},
	}
}

func TestRunnerExecuteOnce(t *testing.T) {
	runner := NewRunner(zap.NewNop(), time.Second, time.Minute)
	runner.Start()
	defer runner.Stop()

	svc := &fakeService{name: "step"}
	data := newTestData("a", "b")

	if err := runner.Run(context.Background(), []Service{svc}, data); err != nil {
		t.Fatalf("Run() 失败: %v", err)
	}
	if svc.executed != 1 {
		t.Errorf("Execute 应调用 1 次，实际 %d 次", svc.executed)
	}
	if svc.scheduled != 0 {
		t.Errorf("无轮询步骤不应调用 Schedule，实际 %d 次", svc.scheduled)
	}
}

func TestRunnerScheduleUntilDone(t *testing.T) {
	runner := NewRunner(zap.NewNop(), time.Second, time.Minute)
	runner.Start()
	defer runner.Stop()

	svc := &fakeService{name: "poll-step", needPoll: true, doneAfter: 2}
	data := newTestData("a")

	if err := runner.Run(context.Background(), []Service{svc}, data); err != nil {
		t.Fatalf("Run() 失败: %v", err)
	}
	if svc.scheduled != 2 {
		t.Errorf("Schedule 应调用 2 次，实际 %d 次", svc.scheduled)
	}
}

func TestRunnerBatchFatal(t *testing.T) {
	runner := NewRunner(zap.NewNop(), time.Second, time.Minute)
	runner.Start()
	defer runner.Stop()

	fatal := &fakeService{name: "fatal", executeErr: errors.New("缺少必要配置")}
	next := &fakeService{name: "next"}
	data := newTestData("a", "b")

	err := runner.Run(context.Background(), []Service{fatal, next}, data)
	if err == nil {
		t.Fatal("批次级错误应向上返回")
	}
	// 所有剩余实例以同一原因置失败，后续步骤不再执行
	if got := len(data.Tracker.FailedReasons()); got != 2 {
		t.Errorf("应有 2 个实例失败，实际 %d", got)
	}
	if next.executed != 0 {
		t.Errorf("管道终止后不应执行后续步骤")
	}
}

func TestRunnerSkipsWhenEmpty(t *testing.T) {
	runner := NewRunner(zap.NewNop(), time.Second, time.Minute)
	runner.Start()
	defer runner.Stop()

	svc := &fakeService{name: "step"}
	data := newTestData("a")
	data.Tracker.MoveToFailed(context.Background(), []string{"a"}, "上游失败")

	if err := runner.Run(context.Background(), []Service{svc}, data); err != nil {
		t.Fatalf("Run() 失败: %v", err)
	}
	if svc.executed != 0 {
		t.Errorf("无待处理实例时不应执行步骤")
	}
}
