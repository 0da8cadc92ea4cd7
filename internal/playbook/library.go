package playbook

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Library holds playbook definitions keyed by id, seeded with the built-in
// remediations. Safe for concurrent use.
type Library struct {
	mu        sync.RWMutex
	playbooks map[string]Playbook
	order     []string
	logger    *zap.Logger
}

// NewLibrary creates a library pre-loaded with the built-in playbooks.
func NewLibrary(logger *zap.Logger) *Library {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Library{
		playbooks: make(map[string]Playbook),
		logger:    logger,
	}
	for _, pb := range builtinPlaybooks() {
		l.put(pb)
	}
	l.logger.Info("playbook library loaded", zap.Int("count", len(l.order)))
	return l
}

func (l *Library) put(pb Playbook) {
	if _, exists := l.playbooks[pb.ID]; !exists {
		l.order = append(l.order, pb.ID)
	}
	l.playbooks[pb.ID] = pb
}

// Get returns a playbook by id.
func (l *Library) Get(id string) (Playbook, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pb, ok := l.playbooks[id]
	return pb, ok
}

// All returns every playbook in load order.
func (l *Library) All() []Playbook {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Playbook, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.playbooks[id])
	}
	return out
}

// ByCategory returns playbooks whose category matches, case-insensitively.
func (l *Library) ByCategory(category string) []Playbook {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Playbook
	for _, id := range l.order {
		if strings.EqualFold(l.playbooks[id].Category, category) {
			out = append(out, l.playbooks[id])
		}
	}
	return out
}

// BySeverity returns playbooks of a severity, case-insensitively.
func (l *Library) BySeverity(severity string) []Playbook {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Playbook
	for _, id := range l.order {
		if strings.EqualFold(l.playbooks[id].Severity, severity) {
			out = append(out, l.playbooks[id])
		}
	}
	return out
}

// Match selects the first playbook whose category matches the finding's.
func (l *Library) Match(f Finding) (Playbook, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, id := range l.order {
		if strings.EqualFold(l.playbooks[id].Category, f.Category) {
			return l.playbooks[id], true
		}
	}
	return Playbook{}, false
}

// Load parses a YAML playbook definition and adds it to the library.
func (l *Library) Load(data []byte) error {
	pb, err := LoadYAML(data)
	if err != nil {
		return err
	}
	if pb.ID == "" {
		return fmt.Errorf("%w: playbook YAML has no id", ErrValidation)
	}
	l.mu.Lock()
	l.put(pb)
	l.mu.Unlock()
	l.logger.Info("playbook loaded",
		zap.String("id", pb.ID),
		zap.String("name", pb.Name),
	)
	return nil
}

// Export serializes one playbook to YAML.
func (l *Library) Export(id string) ([]byte, error) {
	l.mu.RLock()
	pb, ok := l.playbooks[id]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("playbook not found: %s", id)
	}
	return ExportYAML(pb)
}

// PrereqFindingHasResource is registered as a built-in prerequisite check.
const PrereqFindingHasResource = "finding_has_resource"

func builtinPlaybooks() []Playbook {
	return []Playbook{
		NewBuilder("AWS-PUBLIC-S3", "Block S3 Public Access").
			Description("Enables the account-independent public access block on a bucket that allows public reads or writes").
			Category("Storage").
			Severity("CRITICAL").
			RequiresApproval(true).
			RollbackEnabled(true).
			Timeout(5 * time.Minute).
			Prerequisite(PrereqFindingHasResource).
			Action("block_public_access", KindActionAWS, map[string]any{
				"command":          "aws s3api put-public-access-block --bucket {resource} --public-access-block-configuration BlockPublicAcls=true,IgnorePublicAcls=true,BlockPublicPolicy=true,RestrictPublicBuckets=true",
				"rollback_command": "aws s3api put-public-access-block --bucket {resource} --public-access-block-configuration BlockPublicAcls=false,IgnorePublicAcls=false,BlockPublicPolicy=false,RestrictPublicBuckets=false",
			}, nil).
			Action("notify_team", KindActionNotification, map[string]any{
				"channel": "security-alerts",
				"message": "Public access blocked on bucket {resource} (finding {finding_id})",
			}, nil).
			Build(),

		NewBuilder("AWS-OPEN-SG", "Close Open Security Group Ingress").
			Description("Revokes world-open SSH ingress from a security group").
			Category("Network").
			Severity("HIGH").
			RequiresApproval(true).
			RollbackEnabled(false).
			Timeout(5 * time.Minute).
			Prerequisite(PrereqFindingHasResource).
			Action("revoke_open_ssh", KindActionAWS, map[string]any{
				"command": "aws ec2 revoke-security-group-ingress --group-id {resource} --protocol tcp --port 22 --cidr 0.0.0.0/0",
			}, nil).
			Action("notify_team", KindActionNotification, map[string]any{
				"channel": "security-alerts",
				"message": "Open SSH ingress revoked on {resource} (finding {finding_id})",
			}, nil).
			Build(),

		NewBuilder("AWS-CLOUDTRAIL-OFF", "Re-enable CloudTrail Logging").
			Description("Restarts logging for a trail that was stopped").
			Category("Compliance").
			Severity("HIGH").
			RequiresApproval(false).
			RollbackEnabled(false).
			Timeout(2 * time.Minute).
			Action("start_logging", KindActionAWS, map[string]any{
				"command": "aws cloudtrail start-logging --name {resource}",
			}, nil).
			Action("notify_team", KindActionNotification, map[string]any{
				"channel": "security-alerts",
				"message": "CloudTrail logging re-enabled for {resource}",
			}, nil).
			Build(),

		NewBuilder("AWS-IAM-STALE-KEY", "Deactivate Stale Access Key").
			Description("Marks a long-unused IAM access key inactive").
			Category("Identity").
			Severity("MEDIUM").
			RequiresApproval(true).
			RollbackEnabled(true).
			Timeout(2 * time.Minute).
			Action("deactivate_key", KindActionAWS, map[string]any{
				"command":          "aws iam update-access-key --access-key-id {resource} --status Inactive",
				"rollback_command": "aws iam update-access-key --access-key-id {resource} --status Active",
			}, nil).
			Build(),

		NewBuilder("AZURE-PUBLIC-BLOB", "Disable Blob Public Access").
			Description("Turns off anonymous blob access on a storage account").
			Category("Storage").
			Severity("CRITICAL").
			RequiresApproval(true).
			RollbackEnabled(true).
			Timeout(5 * time.Minute).
			Prerequisite(PrereqFindingHasResource).
			Action("disable_public_access", KindActionAzure, map[string]any{
				"command":          "az storage account update --name {resource} --allow-blob-public-access false",
				"rollback_command": "az storage account update --name {resource} --allow-blob-public-access true",
			}, nil).
			Action("notify_team", KindActionNotification, map[string]any{
				"channel": "security-alerts",
				"message": "Anonymous blob access disabled on {resource} (finding {finding_id})",
			}, nil).
			Build(),

		NewBuilder("AZURE-NSG-OPEN-SSH", "Deny Open SSH in NSG").
			Description("Flips a world-open SSH rule to Deny").
			Category("Network").
			Severity("HIGH").
			RequiresApproval(true).
			RollbackEnabled(true).
			Timeout(5 * time.Minute).
			Prerequisite(PrereqFindingHasResource).
			Action("deny_open_ssh", KindActionAzure, map[string]any{
				"command":          "az network nsg rule update --ids {resource} --access Deny",
				"rollback_command": "az network nsg rule update --ids {resource} --access Allow",
			}, nil).
			Build(),

		NewBuilder("GCP-PUBLIC-BUCKET", "Enforce Public Access Prevention").
			Description("Enables public access prevention on an exposed bucket").
			Category("Storage").
			Severity("CRITICAL").
			RequiresApproval(true).
			RollbackEnabled(true).
			Timeout(5 * time.Minute).
			Prerequisite(PrereqFindingHasResource).
			Action("enforce_prevention", KindActionGCP, map[string]any{
				"command":          "gcloud storage buckets update gs://{resource} --public-access-prevention",
				"rollback_command": "gcloud storage buckets update gs://{resource} --no-public-access-prevention",
			}, nil).
			Action("notify_team", KindActionNotification, map[string]any{
				"channel": "security-alerts",
				"message": "Public access prevention enforced on gs://{resource} (finding {finding_id})",
			}, nil).
			Build(),

		NewBuilder("GCP-FIREWALL-OPEN", "Restrict Open Firewall Rule").
			Description("Narrows a 0.0.0.0/0 firewall rule to the internal range").
			Category("Network").
			Severity("HIGH").
			RequiresApproval(true).
			RollbackEnabled(true).
			Timeout(5 * time.Minute).
			Prerequisite(PrereqFindingHasResource).
			Action("restrict_source_ranges", KindActionGCP, map[string]any{
				"command":          "gcloud compute firewall-rules update {resource} --source-ranges 10.0.0.0/8",
				"rollback_command": "gcloud compute firewall-rules update {resource} --source-ranges 0.0.0.0/0",
			}, nil).
			Build(),
	}
}
