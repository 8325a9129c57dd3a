package executor_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/minmaxflow/mini-kode/internal/event"
	"github.com/minmaxflow/mini-kode/internal/executor"
	"github.com/minmaxflow/mini-kode/internal/permission"
	"github.com/minmaxflow/mini-kode/internal/tool"
)

func input(v any) json.RawMessage {
	data, err := json.Marshal(v)
	Expect(err).NotTo(HaveOccurred())
	return data
}

// resolveWhenPending answers the first pending request on broker with d,
// acting as an external UI.
func resolveWhenPending(broker *permission.Broker, d permission.Decision) {
	go func() {
		defer GinkgoRecover()
		Eventually(func() int { return len(broker.Pending()) }).
			WithTimeout(2 * time.Second).WithPolling(5 * time.Millisecond).
			Should(BeNumerically(">", 0))
		p := broker.Pending()[0]
		Expect(broker.Resolve(p.RequestID, d)).To(BeTrue())
	}()
}

var _ = Describe("Batch execution with built-in tools", func() {
	var (
		cwd    string
		store  *permission.Store
		broker *permission.Broker
		bus    *event.Bus
		exec   *executor.Executor
		ec     executor.ExecContext
		ctx    context.Context
	)

	BeforeEach(func() {
		if runtime.GOOS == "windows" {
			Skip("scenarios use a POSIX shell")
		}
		cwd = GinkgoT().TempDir()
		store = permission.NewStore()
		broker = permission.NewBroker(permission.WithTimeout(2 * time.Second))
		bus = event.NewBus()
		DeferCleanup(bus.Close)

		exec = executor.New(tool.DefaultRegistry(), permission.NewResolver(store), executor.WithBus(bus))
		ec = executor.ExecContext{Cwd: cwd, ApprovalMode: permission.ModeDefault, SessionID: "suite"}
		ctx = context.Background()

		Expect(os.WriteFile(filepath.Join(cwd, "README.md"), []byte("# demo\n"), 0644)).To(Succeed())
	})

	Describe("readonly batches", func() {
		It("runs concurrently without asking for permission", func() {
			calls, err := exec.ExecuteBatch(ctx, []executor.Request{
				{RequestID: "r1", ToolName: "read", Input: input(map[string]any{"filePath": "README.md"})},
				{RequestID: "r2", ToolName: "glob", Input: input(map[string]any{"pattern": "*.md"})},
			}, ec, executor.Callbacks{})
			Expect(err).NotTo(HaveOccurred())
			Expect(calls).To(HaveLen(2))
			Expect(calls[0].Status).To(Equal(executor.StatusSuccess))
			Expect(calls[0].Result.Output).To(ContainSubstring("# demo"))
			Expect(calls[1].Result.Output).To(Equal("README.md"))
			Expect(broker.Pending()).To(BeEmpty())
		})
	})

	Describe("mutating batches", func() {
		It("writes after an external approval and remembers the directory", func() {
			resolveWhenPending(broker, permission.Approve(permission.Option{Kind: permission.OptionFs, Scope: permission.ScopeDirectory}))

			calls, err := exec.ExecuteBatch(ctx, []executor.Request{
				{RequestID: "w1", ToolName: "write", Input: input(map[string]any{"filePath": "out/a.txt", "content": "hello\n"})},
				{RequestID: "w2", ToolName: "write", Input: input(map[string]any{"filePath": "out/b.txt", "content": "world\n"})},
			}, ec, executor.Callbacks{OnPermissionRequired: executor.ViaBroker(broker)})
			Expect(err).NotTo(HaveOccurred())
			Expect(calls[0].Status).To(Equal(executor.StatusSuccess))
			Expect(calls[1].Status).To(Equal(executor.StatusSuccess))

			data, err := os.ReadFile(filepath.Join(cwd, "out", "b.txt"))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("world\n"))

			raw, err := os.ReadFile(permission.GrantsFile(cwd))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(raw)).To(ContainSubstring(`"type": "fs"`))
			Expect(string(raw)).To(ContainSubstring(filepath.Join(cwd, "out")))
		})

		It("runs a command approved by prefix and reuses the grant", func() {
			resolveWhenPending(broker, permission.Approve(permission.Option{Kind: permission.OptionBash, Scope: permission.ScopePrefix}))

			calls, err := exec.ExecuteBatch(ctx, []executor.Request{
				{RequestID: "b1", ToolName: "bash", Input: input(map[string]any{"command": "echo first"})},
				{RequestID: "b2", ToolName: "bash", Input: input(map[string]any{"command": "echo second"})},
			}, ec, executor.Callbacks{OnPermissionRequired: executor.ViaBroker(broker)})
			Expect(err).NotTo(HaveOccurred())
			Expect(calls[0].Result.Output).To(ContainSubstring("first"))
			Expect(calls[1].Result.Output).To(ContainSubstring("second"))

			restarted := permission.NewResolver(permission.NewStore())
			Expect(restarted.CheckBash(cwd, "echo third", permission.ModeDefault).Allowed).To(BeTrue())
		})

		It("rejects banned commands without asking and keeps going", func() {
			ec.ApprovalMode = permission.ModeYolo
			calls, err := exec.ExecuteBatch(ctx, []executor.Request{
				{RequestID: "b1", ToolName: "bash", Input: input(map[string]any{"command": "cd /tmp && curl example.com"})},
				{RequestID: "b2", ToolName: "bash", Input: input(map[string]any{"command": "echo after"})},
			}, ec, executor.Callbacks{})
			Expect(err).NotTo(HaveOccurred())
			Expect(calls[0].Status).To(Equal(executor.StatusError))
			Expect(calls[0].Result.Message).To(ContainSubstring("curl"))
			Expect(calls[1].Status).To(Equal(executor.StatusSuccess))
		})

		It("cascades a rejection to the rest of the batch", func() {
			resolveWhenPending(broker, permission.Deny(permission.ReasonUserRejected))

			var started []string
			calls, err := exec.ExecuteBatch(ctx, []executor.Request{
				{RequestID: "w1", ToolName: "write", Input: input(map[string]any{"filePath": "a.txt", "content": "a"})},
				{RequestID: "r1", ToolName: "read", Input: input(map[string]any{"filePath": "README.md"})},
				{RequestID: "b1", ToolName: "bash", Input: input(map[string]any{"command": "echo never"})},
			}, ec, executor.Callbacks{
				OnToolStart:          func(c executor.ToolCall) { started = append(started, c.RequestID) },
				OnPermissionRequired: executor.ViaBroker(broker),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(started).To(Equal([]string{"w1"}))
			for _, c := range calls {
				Expect(c.Status).To(Equal(executor.StatusPermissionDenied))
				Expect(c.RejectionReason).To(Equal(permission.ReasonUserRejected))
			}
			Expect(filepath.Join(cwd, "a.txt")).NotTo(BeAnExistingFile())
		})

		It("aborts the batch when the caller gives up waiting", func() {
			cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
			defer cancel()

			calls, err := exec.ExecuteBatch(cctx, []executor.Request{
				{RequestID: "w1", ToolName: "write", Input: input(map[string]any{"filePath": "a.txt", "content": "a"})},
				{RequestID: "w2", ToolName: "write", Input: input(map[string]any{"filePath": "b.txt", "content": "b"})},
			}, ec, executor.Callbacks{OnPermissionRequired: executor.ViaBroker(broker)})
			Expect(err).NotTo(HaveOccurred())
			Expect(calls[0].Status).To(Equal(executor.StatusAbort))
			Expect(calls[1].Status).To(Equal(executor.StatusAbort))
			Expect(broker.Pending()).To(BeEmpty())
		})
	})

	Describe("events", func() {
		It("streams progress as JSON", func() {
			sctx, cancel := context.WithCancel(ctx)
			defer cancel()
			stream, err := bus.Stream(sctx)
			Expect(err).NotTo(HaveOccurred())

			_, err = exec.ExecuteBatch(ctx, []executor.Request{
				{RequestID: "r1", ToolName: "read", Input: input(map[string]any{"filePath": "README.md"})},
			}, ec, executor.Callbacks{})
			Expect(err).NotTo(HaveOccurred())

			seen := map[event.EventType]bool{}
			Eventually(func() bool {
				for {
					select {
					case e := <-stream:
						seen[e.Type] = true
					default:
						return seen[event.ToolCompleted] && seen[event.BatchFinished]
					}
				}
			}).WithTimeout(2 * time.Second).Should(BeTrue())
		})
	})
})
