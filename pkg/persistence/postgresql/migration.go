package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Flows with a per-owner priority space. The unique constraint is
			-- deferred so bulk reassignments can swap priorities in one transaction.
			CREATE TABLE flows (
				id VARCHAR(64) PRIMARY KEY,
				owner_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				enabled BOOLEAN NOT NULL DEFAULT true,
				priority INTEGER CHECK (priority > 0),
				business_hours JSONB,
				failure_policy VARCHAR(20) NOT NULL DEFAULT 'continue' CHECK (failure_policy IN ('continue', 'abort')),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				CONSTRAINT flows_owner_priority_key UNIQUE (owner_id, priority) DEFERRABLE INITIALLY DEFERRED
			);

			CREATE INDEX idx_flows_owner_enabled ON flows(owner_id, enabled);

			CREATE TABLE flow_conditions (
				flow_id VARCHAR(64) NOT NULL REFERENCES flows(id) ON DELETE CASCADE,
				position INTEGER NOT NULL,
				condition JSONB NOT NULL,
				PRIMARY KEY (flow_id, position)
			);

			CREATE TABLE flow_actions (
				flow_id VARCHAR(64) NOT NULL REFERENCES flows(id) ON DELETE CASCADE,
				action_order INTEGER NOT NULL CHECK (action_order > 0),
				action_type VARCHAR(50) NOT NULL,
				config JSONB NOT NULL,
				condition JSONB,
				PRIMARY KEY (flow_id, action_order)
			);
		`,
		2: `
			-- Executions keep a weak reference to their flow so history survives deletes.
			CREATE TABLE executions (
				id VARCHAR(64) PRIMARY KEY,
				owner_id VARCHAR(255) NOT NULL,
				flow_id VARCHAR(64) NOT NULL,
				flow_name VARCHAR(255) NOT NULL,
				contact_id VARCHAR(255) NOT NULL,
				event_type VARCHAR(255) NOT NULL DEFAULT '',
				event_data JSONB,
				status VARCHAR(20) NOT NULL CHECK (status IN ('running', 'completed', 'failed', 'cancelled')),
				is_test_run BOOLEAN NOT NULL DEFAULT false,
				actions JSONB NOT NULL,
				failure_policy VARCHAR(20) NOT NULL DEFAULT 'continue',
				next_action_order INTEGER NOT NULL DEFAULT 0,
				resume_at TIMESTAMP WITH TIME ZONE,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				ended_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_executions_owner_started ON executions(owner_id, started_at DESC);
			CREATE INDEX idx_executions_flow ON executions(flow_id);
			CREATE INDEX idx_executions_resume_at ON executions(resume_at)
				WHERE status = 'running' AND resume_at IS NOT NULL;

			CREATE TABLE action_logs (
				seq BIGSERIAL PRIMARY KEY,
				id VARCHAR(64) NOT NULL UNIQUE,
				execution_id VARCHAR(64) NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
				action_order INTEGER NOT NULL,
				action_type VARCHAR(50) NOT NULL,
				outcome VARCHAR(30) NOT NULL CHECK (outcome IN ('success', 'skipped_by_condition', 'failed')),
				detail JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_action_logs_execution ON action_logs(execution_id, seq);
		`,
	}
}
