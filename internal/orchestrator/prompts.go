package orchestrator

const planSystemPrompt = `You split a computer task into a few steps and choose a skill for each one. Answer with JSON only.`

const planPromptTemplate = `TASK: %s

AVAILABLE SKILLS:
- open_url: open a URL in the browser. Only for the initial URL, e.g. "open https://youtube.com/results?search_query=messi".
- fast_path: simple web actions on the current page (click a known button, type into a field, read the page).
- vision: complex or visual actions located on a screenshot, and anything inside a desktop application.
- file_manager: create, read, write, append, delete or list files on this computer.
- app_launcher: start a desktop application by name.
- run_command: run a shell command.

Keep the plan short: most tasks need 1 to 3 steps. Prefer a search URL over typing into a search box.

Answer ONLY with valid JSON:
{
  "steps": [
    {"step": 1, "description": "what to do", "estimated_skill": "open_url"}
  ],
  "complexity": "simple|medium|complex"
}`

const decideSystemPrompt = `You supervise the execution of a computer task and decide the next step. Answer with JSON only.`

const decidePromptTemplate = `# CONTEXT
Global task: %s
Initial plan: %s

# CURRENT STATE
Completed steps: %d
Active skill: %s
Desktop application launched: %s
Context: %s

# RULES
- If a desktop application was launched, use the vision skill to interact with it. Never use fast_path or app_launcher for that.
- open_url is only for the initial URL. Never use it to navigate or search.
- fast_path handles simple web actions; reading a page takes one call. If fast_path failed, switch to vision.
- vision handles complex web actions and desktop applications. If vision is still navigating, continue with it.
- When the objective is reached, set task_complete.

Answer ONLY with valid JSON:
{
  "continue_current_skill": true,
  "reason": "short explanation",
  "next_instruction": "instruction when continue_current_skill is true",
  "next_skill": "skill name when continue_current_skill is false",
  "skill_instruction": "instruction for the new skill",
  "task_complete": false,
  "summary": "summary when task_complete is true"
}`

const summaryPromptTemplate = `Requested task: %s

%d actions performed.

Final result: %s

Write a SHORT summary (1-2 sentences) of what was accomplished. It will be read to the user.`
