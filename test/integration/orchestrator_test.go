package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/cuemby/orchestrator-core/pkg/detector"
	"github.com/cuemby/orchestrator-core/pkg/types"
)

func postJSON(url string, body interface{}) (*http.Response, map[string]interface{}, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, nil, err
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	var decoded map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded, nil
}

func getJSON(url string) (*http.Response, map[string]interface{}, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	var decoded map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded, nil
}

func registerReadyAgent(h *harness, configName string) *types.Agent {
	agent, err := h.agents.Register(context.Background(), configName, "agent.local", "10.0.0.1", 9000, nil)
	Expect(err).NotTo(HaveOccurred())
	Expect(h.agents.MarkReady(context.Background(), agent.ID)).To(Succeed())
	agent, err = h.agents.Get(context.Background(), agent.ID)
	Expect(err).NotTo(HaveOccurred())
	return agent
}

var _ = Describe("basic job flow", func() {
	var h *harness

	BeforeEach(func() {
		h = newHarness()
		h.start()
	})

	AfterEach(func() {
		h.stop()
	})

	// S1: a created job is matched to a compatible ready agent and the
	// agent receives a start command.
	It("dispatches a created job to a matching ready agent", func() {
		registerReadyAgent(h, "writer")

		resp, body, err := postJSON(h.url("/jobs"), map[string]interface{}{
			"description": "write the onboarding doc",
			"config_name": "writer",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		jobID := body["ID"].(string)

		Eventually(func() int { return h.client.startCount() }, time.Second, 5*time.Millisecond).
			Should(Equal(1))

		job, err := h.jobs.Get(context.Background(), jobID)
		Expect(err).NotTo(HaveOccurred())
		Expect(job.Status).To(Equal(types.JobStatusProcessing))
		Expect(job.AssignedAgentID).NotTo(BeEmpty())
	})

	// S2: no compatible agent exists -> job stays created, no error
	// surfaces to the caller, and no start command is ever issued.
	It("leaves a job created when no agent matches its config name", func() {
		registerReadyAgent(h, "reviewer")

		resp, body, err := postJSON(h.url("/jobs"), map[string]interface{}{
			"description": "summarize the changelog",
			"config_name": "writer",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		jobID := body["ID"].(string)

		Consistently(func() int { return h.client.startCount() }, 100*time.Millisecond, 10*time.Millisecond).
			Should(Equal(0))

		job, err := h.jobs.Get(context.Background(), jobID)
		Expect(err).NotTo(HaveOccurred())
		Expect(job.Status).To(Equal(types.JobStatusCreated))
	})

	// S2b: a created job that goes stale with no compatible agent ever
	// having claimed it surfaces in the stuck-work report, even though
	// it is never auto-escalated.
	It("surfaces a stale created job in the stuck-work report without escalating it", func() {
		h2 := newHarness(detector.WithStaleThreshold(10 * time.Millisecond))
		h2.start()
		defer h2.stop()

		registerReadyAgent(h2, "reviewer")

		_, body, err := postJSON(h2.url("/jobs"), map[string]interface{}{
			"description": "summarize the changelog",
			"config_name": "writer",
		})
		Expect(err).NotTo(HaveOccurred())
		jobID := body["ID"].(string)

		Eventually(func() []string {
			var ids []string
			for _, sj := range h2.detect.StuckReport() {
				ids = append(ids, sj.Job.ID)
			}
			return ids
		}, time.Second, 5*time.Millisecond).Should(ContainElement(jobID))

		job, err := h2.jobs.Get(context.Background(), jobID)
		Expect(err).NotTo(HaveOccurred())
		Expect(job.Status).To(Equal(types.JobStatusCreated))
	})
})

var _ = Describe("agent heartbeat timeout", func() {
	// S3: an agent that stops heartbeating is marked offline by the
	// detector once the liveness threshold elapses. Its in-flight job
	// waits out the recovery grace window before being escalated to
	// failed with reason agent_offline.
	It("marks a silent agent offline and escalates its orphaned job", func() {
		h := newHarness(
			detector.WithLivenessThreshold(30*time.Millisecond),
			detector.WithRecoveryGrace(0),
		)
		h.start()
		defer h.stop()

		agent := registerReadyAgent(h, "writer")

		resp, body, err := postJSON(h.url("/jobs"), map[string]interface{}{
			"description": "draft the release notes",
			"config_name": "writer",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		jobID := body["ID"].(string)

		Eventually(func() int { return h.client.startCount() }, time.Second, 5*time.Millisecond).
			Should(Equal(1))

		// No further heartbeat arrives for this agent; once the
		// liveness threshold has elapsed the detector's next sweep
		// should mark it offline.
		Eventually(func() types.AgentStatus {
			a, err := h.agents.Get(context.Background(), agent.ID)
			Expect(err).NotTo(HaveOccurred())
			return a.Status
		}, time.Second, 5*time.Millisecond).Should(Equal(types.AgentStatusOffline))

		Eventually(func() types.JobStatus {
			j, err := h.jobs.Get(context.Background(), jobID)
			Expect(err).NotTo(HaveOccurred())
			return j.Status
		}, time.Second, 5*time.Millisecond).Should(Equal(types.JobStatusFailed))

		job, err := h.jobs.Get(context.Background(), jobID)
		Expect(err).NotTo(HaveOccurred())
		Expect(job.ErrorMessage).To(Equal("agent_offline"))

		var details map[string]interface{}
		Expect(json.Unmarshal(job.ErrorDetails, &details)).To(Succeed())
		Expect(details["reason"]).To(Equal("agent_offline"))
	})
})

var _ = Describe("freeze and approve", func() {
	// S4: an agent freezes its job for review; approving advances the
	// job to completed and tells the agent to proceed.
	It("completes the job once the freeze is approved", func() {
		h := newHarness()
		h.start()
		defer h.stop()

		registerReadyAgent(h, "writer")

		_, body, err := postJSON(h.url("/jobs"), map[string]interface{}{
			"description": "draft the API reference",
			"config_name": "writer",
		})
		Expect(err).NotTo(HaveOccurred())
		jobID := body["ID"].(string)

		Eventually(func() int { return h.client.startCount() }, time.Second, 5*time.Millisecond).
			Should(Equal(1))

		resp, _, err := postJSON(h.url(fmt.Sprintf("/jobs/%s/freeze", jobID)), map[string]interface{}{
			"summary":      "first draft ready",
			"deliverables": []string{"api.md"},
			"confidence":   0.8,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		job, err := h.jobs.Get(context.Background(), jobID)
		Expect(err).NotTo(HaveOccurred())
		Expect(job.Status).To(Equal(types.JobStatusPendingReview))

		resp, body, err = postJSON(h.url(fmt.Sprintf("/jobs/%s/approve", jobID)), nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(body["Status"]).To(Equal(string(types.JobStatusCompleted)))
	})
})

var _ = Describe("freeze and resume with feedback", func() {
	// S5: resuming a frozen job sends feedback back to the assigned
	// agent and returns the job to processing.
	It("returns the job to processing and relays feedback to the agent", func() {
		h := newHarness()
		h.start()
		defer h.stop()

		registerReadyAgent(h, "writer")

		_, body, err := postJSON(h.url("/jobs"), map[string]interface{}{
			"description": "draft the migration guide",
			"config_name": "writer",
		})
		Expect(err).NotTo(HaveOccurred())
		jobID := body["ID"].(string)

		Eventually(func() int { return h.client.startCount() }, time.Second, 5*time.Millisecond).
			Should(Equal(1))

		resp, _, err := postJSON(h.url(fmt.Sprintf("/jobs/%s/freeze", jobID)), map[string]interface{}{
			"summary": "needs another pass on section 3",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		resp, body, err = postJSON(h.url(fmt.Sprintf("/jobs/%s/resume", jobID)), map[string]interface{}{
			"feedback": "expand section 3 with a rollback example",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(body["Status"]).To(Equal(string(types.JobStatusProcessing)))

		h.client.mu.Lock()
		resumes := append([]resumeCall(nil), h.client.resumes...)
		h.client.mu.Unlock()
		Expect(resumes).To(HaveLen(1))
		Expect(resumes[0].Feedback).To(Equal("expand section 3 with a rollback example"))
	})
})

var _ = Describe("concurrent dispatch safety", func() {
	// S6: when multiple jobs and multiple compatible agents exist,
	// concurrently triggered dispatch passes never assign the same
	// agent to two jobs at once.
	It("never double-assigns a ready agent across concurrent dispatch ticks", func() {
		h := newHarness()
		h.start()
		defer h.stop()

		const agentCount = 5
		for i := 0; i < agentCount; i++ {
			registerReadyAgent(h, "writer")
		}

		const jobCount = 5
		jobIDs := make([]string, 0, jobCount)
		for i := 0; i < jobCount; i++ {
			_, body, err := postJSON(h.url("/jobs"), map[string]interface{}{
				"description": fmt.Sprintf("task %d", i),
				"config_name": "writer",
			})
			Expect(err).NotTo(HaveOccurred())
			jobIDs = append(jobIDs, body["ID"].(string))
		}

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				h.dispatch.Kick()
			}()
		}
		wg.Wait()

		Eventually(func() int { return h.client.startCount() }, time.Second, 5*time.Millisecond).
			Should(Equal(jobCount))

		seen := map[string]bool{}
		h.client.mu.Lock()
		starts := append([]startCall(nil), h.client.starts...)
		h.client.mu.Unlock()
		for _, s := range starts {
			Expect(seen[s.AgentID]).To(BeFalse(), "agent %s was dispatched to more than one job", s.AgentID)
			seen[s.AgentID] = true
		}
		_ = jobIDs
	})
})
